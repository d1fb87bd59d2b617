package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"gopkg.in/yaml.v2"
)

//go:embed reports/*.yaml
var builtin embed.FS

// Catalog holds named report specs.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{specs: make(map[string]Spec)}
}

// Builtin returns a catalog holding the embedded reports.
func Builtin() (*Catalog, error) {
	c := NewCatalog()
	files, err := fs.Glob(builtin, "reports/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		data, err := builtin.ReadFile(f)
		if err != nil {
			return nil, err
		}
		spec, err := ParseSpec(data)
		if err != nil {
			return nil, fmt.Errorf("report: %s: %w", f, err)
		}
		if err := c.Add(spec); err != nil {
			return nil, fmt.Errorf("report: %s: %w", f, err)
		}
	}
	return c, nil
}

// Add stores spec under its name, replacing any previous entry.
func (c *Catalog) Add(spec Spec) error {
	if spec.Name == "" {
		return domain.NewSpecError("name", "catalog entries need a name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Name] = spec
	return nil
}

// Get returns the spec stored under name.
func (c *Catalog) Get(name string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[name]
	return s, ok
}

// List returns every spec, sorted by name.
func (c *Catalog) List() []Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Spec) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ParseSpec decodes a spec from JSON (when data starts with '{') or YAML.
// Unknown keys are rejected.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return Spec{}, domain.NewSpecError("", "decode json: %v", err)
		}
		return spec, nil
	}
	if err := yaml.UnmarshalStrict(trimmed, &spec); err != nil {
		return Spec{}, domain.NewSpecError("", "decode yaml: %v", err)
	}
	return spec, nil
}

// LoadDir adds every *.yaml, *.yml and *.json spec in dir, replacing
// builtin entries of the same name. Each spec is validated against schema.
func (c *Catalog) LoadDir(dir string, schema *domain.Schema) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("report: read dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
			continue
		}
		spec, err := LoadSpecFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, fmt.Errorf("report: %s: %w", e.Name(), err)
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(e.Name(), ext)
		}
		if err := Validate(schema, spec); err != nil {
			return n, fmt.Errorf("report: %s: %w", e.Name(), err)
		}
		if err := c.Add(spec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// LoadSpecFile reads and parses a spec file.
func LoadSpecFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("report: read spec: %w", err)
	}
	return ParseSpec(data)
}
