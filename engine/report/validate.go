package report

import (
	"fmt"
	"slices"
	"strings"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
)

// plan is a validated spec compiled against a schema.
type plan struct {
	name   string
	schema *domain.Schema

	nodeSlots    map[string]int
	nodeLabels   []domain.Label
	edgeSlots    map[string]int
	edgeTypes    [][]domain.EdgeType
	derivedSlots map[string]int

	anchor  anchorPlan
	hops    []hopPlan
	filter  pred[*row]
	derive  []derivePlan
	grouped bool
	keys    []columnPlan
	aggs    []aggPlan
	columns []columnPlan
	outputs []string
	having  pred[Row]
	order   []sortKey[Row]
	limit   int
}

type anchorPlan struct {
	label domain.Label
	alias string
	pred  graph.NodePredicate
}

type hopPlan struct {
	from, to int
	bind     bool
	label    domain.Label
	types    []domain.EdgeType
	dir      graph.Direction
	edge     int
	optional bool
}

type derivePlan struct {
	slot  int
	cases []casePlan
	def   graph.Value
}

type casePlan struct {
	when pred[*row]
	then graph.Value
}

type columnPlan struct {
	name      string
	acc       accessor[*row]
	center    *graph.Point
	precision *int
	format    string
}

type aggPlan struct {
	fn        string
	name      string
	acc       accessor[*row]
	distinct  bool
	precision *int
	format    string
	n         int
	sortBy    []sortKey[*row]
	outputs   []columnPlan
}

type sortKey[E any] struct {
	acc  accessor[E]
	desc bool
}

// Validate checks spec against schema without running it. Failures are
// *domain.SpecError.
func Validate(schema *domain.Schema, spec Spec) error {
	_, err := compile(schema, spec)
	return err
}

func compile(schema *domain.Schema, spec Spec) (*plan, error) {
	p := &plan{
		name:         spec.Name,
		schema:       schema,
		nodeSlots:    make(map[string]int),
		edgeSlots:    make(map[string]int),
		derivedSlots: make(map[string]int),
		limit:        -1,
	}
	if err := p.compilePattern(spec.Pattern); err != nil {
		return nil, err
	}

	for i, d := range spec.Derive {
		path := fmt.Sprintf("derive[%d]", i)
		if err := p.checkAlias(path+".alias", d.Alias); err != nil {
			return nil, err
		}
		if d.Default == nil {
			return nil, domain.NewSpecError(path+".default", "missing default")
		}
		p.derivedSlots[d.Alias] = i
	}

	var pushdown []pred[graph.Node]
	var filters []pred[*row]
	for i, f := range spec.Filters {
		path := fmt.Sprintf("filters[%d]", i)
		if p.anchorOnly(f) {
			c, err := compilePredicate[graph.Node](nodeScope{p}, path, f)
			if err != nil {
				return nil, err
			}
			pushdown = append(pushdown, c)
			continue
		}
		c, err := compilePredicate[*row](rowScope{p: p}, path, f)
		if err != nil {
			return nil, err
		}
		filters = append(filters, c)
	}
	if len(pushdown) > 0 {
		all := allOf(pushdown)
		p.anchor.pred = func(n graph.Node) bool { return all(n) }
	}
	if len(filters) > 0 {
		p.filter = allOf(filters)
	}

	for i, d := range spec.Derive {
		path := fmt.Sprintf("derive[%d]", i)
		sc := rowScope{p: p, derived: i}
		dp := derivePlan{slot: i}
		for j, c := range d.Cases {
			cpath := fmt.Sprintf("%s.cases[%d]", path, j)
			when, err := compilePredicate[*row](sc, cpath+".when", c.When)
			if err != nil {
				return nil, err
			}
			then, err := literal(cpath+".then", c.Then, false)
			if err != nil {
				return nil, err
			}
			dp.cases = append(dp.cases, casePlan{when: when, then: then})
		}
		def, err := literal(path+".default", d.Default, false)
		if err != nil {
			return nil, err
		}
		dp.def = def
		p.derive = append(p.derive, dp)
	}

	if err := p.compileOutputs(spec); err != nil {
		return nil, err
	}

	outs := outScope(p.outputs)
	if len(spec.Having) > 0 {
		h, err := compilePredicates[Row](outs, "having", spec.Having)
		if err != nil {
			return nil, err
		}
		p.having = h
	}
	for i, o := range spec.OrderBy {
		k, err := sortKeyOf[Row](outs, fmt.Sprintf("orderBy[%d]", i), o)
		if err != nil {
			return nil, err
		}
		p.order = append(p.order, k)
	}
	if spec.Limit != nil {
		if *spec.Limit < 0 {
			return nil, domain.NewSpecError("limit", "negative limit %d", *spec.Limit)
		}
		p.limit = *spec.Limit
	}
	return p, nil
}

func (p *plan) compilePattern(hops []Hop) error {
	if len(hops) == 0 {
		return domain.NewSpecError("pattern", "empty pattern")
	}
	a := hops[0]
	if err := p.checkAlias("pattern[0].alias", a.Alias); err != nil {
		return err
	}
	if a.Label == "" {
		return domain.NewSpecError("pattern[0].label", "anchor needs a label")
	}
	if !p.schema.HasLabel(a.Label) {
		return domain.NewSpecError("pattern[0].label", "unknown label %q", a.Label)
	}
	if a.From != "" || len(a.Edge) > 0 || a.EdgeAlias != "" || a.Optional {
		return domain.NewSpecError("pattern[0]", "anchor takes only alias and label")
	}
	p.anchor = anchorPlan{label: a.Label, alias: a.Alias}
	p.nodeSlots[a.Alias] = 0
	p.nodeLabels = append(p.nodeLabels, a.Label)

	prev := a.Alias
	for i, h := range hops[1:] {
		path := fmt.Sprintf("pattern[%d]", i+1)
		from := h.From
		if from == "" {
			from = prev
		}
		fromSlot, ok := p.nodeSlots[from]
		if !ok {
			return domain.NewSpecError(path+".from", "unknown alias %q", from)
		}
		for _, t := range h.Edge {
			if !p.schema.HasEdgeType(t) {
				return domain.NewSpecError(path+".edge", "unknown edge type %q", t)
			}
		}
		dir, ok := graph.ParseDirection(h.Direction)
		if !ok {
			return domain.NewSpecError(path+".direction", "unknown direction %q", h.Direction)
		}
		if h.Label != "" && !p.schema.HasLabel(h.Label) {
			return domain.NewSpecError(path+".label", "unknown label %q", h.Label)
		}

		hp := hopPlan{from: fromSlot, label: h.Label, types: h.Edge, dir: dir, edge: -1, optional: h.Optional}
		if slot, bound := p.nodeSlots[h.Alias]; bound {
			if h.Label != "" && p.nodeLabels[slot] != "" && p.nodeLabels[slot] != h.Label {
				return domain.NewSpecError(path+".label", "alias %q is bound to %s", h.Alias, p.nodeLabels[slot])
			}
			hp.to = slot
		} else {
			if err := p.checkAlias(path+".alias", h.Alias); err != nil {
				return err
			}
			hp.to = len(p.nodeLabels)
			hp.bind = true
			p.nodeSlots[h.Alias] = hp.to
			p.nodeLabels = append(p.nodeLabels, h.Label)
		}
		if h.EdgeAlias != "" {
			if err := p.checkAlias(path+".edgeAlias", h.EdgeAlias); err != nil {
				return err
			}
			hp.edge = len(p.edgeTypes)
			p.edgeSlots[h.EdgeAlias] = hp.edge
			p.edgeTypes = append(p.edgeTypes, h.Edge)
		}
		p.hops = append(p.hops, hp)
		prev = h.Alias
	}
	return nil
}

// checkAlias rejects empty, dotted and already used aliases.
func (p *plan) checkAlias(path, alias string) error {
	if alias == "" {
		return domain.NewSpecError(path, "missing alias")
	}
	if strings.Contains(alias, ".") {
		return domain.NewSpecError(path, "alias %q must not contain a dot", alias)
	}
	_, n := p.nodeSlots[alias]
	_, e := p.edgeSlots[alias]
	_, d := p.derivedSlots[alias]
	if n || e || d {
		return domain.NewSpecError(path, "duplicate alias %q", alias)
	}
	return nil
}

// anchorOnly reports whether every field f reads belongs to the anchor, so
// it can filter the anchor scan.
func (p *plan) anchorOnly(f Predicate) bool {
	refs := fieldRefs(f)
	if len(refs) == 0 {
		return false
	}
	for _, r := range refs {
		if alias, _ := splitRef(r); alias != p.anchor.alias {
			return false
		}
	}
	return true
}

func (p *plan) compileOutputs(spec Spec) error {
	sc := rowScope{p: p, derived: len(p.derivedSlots)}
	p.grouped = len(spec.GroupBy) > 0 || len(spec.Aggregations) > 0
	if p.grouped && len(spec.Columns) > 0 {
		return domain.NewSpecError("columns", "columns cannot be combined with groupBy or aggregations")
	}
	if !p.grouped && len(spec.Columns) == 0 {
		return domain.NewSpecError("columns", "no output columns")
	}

	for i, c := range spec.GroupBy {
		cp, err := compileColumn(sc, fmt.Sprintf("groupBy[%d]", i), c)
		if err != nil {
			return err
		}
		p.keys = append(p.keys, cp)
	}
	for i, a := range spec.Aggregations {
		ap, err := compileAggregation(sc, fmt.Sprintf("aggregations[%d]", i), a)
		if err != nil {
			return err
		}
		p.aggs = append(p.aggs, ap)
	}
	for i, c := range spec.Columns {
		cp, err := compileColumn(sc, fmt.Sprintf("columns[%d]", i), c)
		if err != nil {
			return err
		}
		p.columns = append(p.columns, cp)
	}

	add := func(path, name string) error {
		if slices.Contains(p.outputs, name) {
			return domain.NewSpecError(path, "duplicate output column %q", name)
		}
		p.outputs = append(p.outputs, name)
		return nil
	}
	for i, k := range p.keys {
		if err := add(fmt.Sprintf("groupBy[%d]", i), k.name); err != nil {
			return err
		}
	}
	for i, a := range p.aggs {
		path := fmt.Sprintf("aggregations[%d]", i)
		if a.fn != FnTop {
			if err := add(path+".alias", a.name); err != nil {
				return err
			}
			continue
		}
		for j, o := range a.outputs {
			if err := add(fmt.Sprintf("%s.outputs[%d]", path, j), o.name); err != nil {
				return err
			}
		}
	}
	for i, c := range p.columns {
		if err := add(fmt.Sprintf("columns[%d]", i), c.name); err != nil {
			return err
		}
	}
	return nil
}

func compileColumn(sc rowScope, path string, c Column) (columnPlan, error) {
	if c.Field == "" {
		return columnPlan{}, domain.NewSpecError(path+".field", "missing field")
	}
	acc, _, err := sc.field(path+".field", c.Field)
	if err != nil {
		return columnPlan{}, err
	}
	if ctr := c.DistanceTo; ctr != nil && (ctr.Lat < -90 || ctr.Lat > 90 || ctr.Lon < -180 || ctr.Lon > 180) {
		return columnPlan{}, domain.NewSpecError(path+".distanceTo", "center out of range")
	}
	return columnPlan{
		name:      c.OutputName(),
		acc:       acc,
		center:    c.DistanceTo,
		precision: c.Precision,
		format:    c.Format,
	}, nil
}

func compileAggregation(sc rowScope, path string, a Aggregation) (aggPlan, error) {
	ap := aggPlan{
		fn:        a.Fn,
		name:      a.Alias,
		distinct:  a.Distinct,
		precision: a.Precision,
		format:    a.Format,
		n:         a.N,
	}
	switch a.Fn {
	case FnCount:
		if a.Distinct && a.Field == "" {
			return ap, domain.NewSpecError(path+".field", "distinct count needs a field")
		}
	case FnSum, FnAvg, FnMin, FnMax, FnCollect:
		if a.Field == "" {
			return ap, domain.NewSpecError(path+".field", "%s needs a field", a.Fn)
		}
	case FnTop:
		if a.N <= 0 {
			return ap, domain.NewSpecError(path+".n", "top needs n > 0")
		}
		if len(a.Outputs) == 0 {
			return ap, domain.NewSpecError(path+".outputs", "top needs outputs")
		}
		for i, o := range a.SortBy {
			k, err := sortKeyOf[*row](sc, fmt.Sprintf("%s.sortBy[%d]", path, i), o)
			if err != nil {
				return ap, err
			}
			ap.sortBy = append(ap.sortBy, k)
		}
		for i, o := range a.Outputs {
			cp, err := compileColumn(sc, fmt.Sprintf("%s.outputs[%d]", path, i), o)
			if err != nil {
				return ap, err
			}
			ap.outputs = append(ap.outputs, cp)
		}
		return ap, nil
	case "":
		return ap, domain.NewSpecError(path+".fn", "missing aggregation function")
	default:
		return ap, domain.NewSpecError(path+".fn", "unknown aggregation %q", a.Fn)
	}
	if a.Alias == "" {
		return ap, domain.NewSpecError(path+".alias", "missing alias")
	}
	if a.Field != "" {
		acc, _, err := sc.field(path+".field", a.Field)
		if err != nil {
			return ap, err
		}
		ap.acc = acc
	}
	return ap, nil
}

func sortKeyOf[E any](sc scope[E], path string, o Order) (sortKey[E], error) {
	var desc bool
	switch strings.ToLower(o.Direction) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return sortKey[E]{}, domain.NewSpecError(path+".direction", "unknown direction %q", o.Direction)
	}
	acc, _, err := sc.field(path+".field", o.Field)
	if err != nil {
		return sortKey[E]{}, err
	}
	return sortKey[E]{acc: acc, desc: desc}, nil
}

// --- Scopes ---

// rowScope resolves pattern aliases and the first derived aliases of a
// matched row.
type rowScope struct {
	p       *plan
	derived int
}

func (s rowScope) field(path, ref string) (accessor[*row], bool, error) {
	p := s.p
	alias, props := splitRef(ref)
	if slot, ok := p.derivedSlots[alias]; ok {
		if slot >= s.derived {
			return nil, false, domain.NewSpecError(path, "derived alias %q used before it is defined", alias)
		}
		return func(r *row) graph.Value { return descend(r.derived[slot], props) }, false, nil
	}
	if slot, ok := p.nodeSlots[alias]; ok {
		label := p.nodeLabels[slot]
		if err := p.checkNodeField(path, ref, label, props); err != nil {
			return nil, false, err
		}
		prop, sub := props[0], props[1:]
		return func(r *row) graph.Value {
			n := r.nodes[slot]
			if n == nil {
				return graph.Null()
			}
			return descend(n.Get(prop), sub)
		}, p.isTemporal(label, prop), nil
	}
	if slot, ok := p.edgeSlots[alias]; ok {
		if err := p.checkEdgeField(path, ref, p.edgeTypes[slot], props); err != nil {
			return nil, false, err
		}
		prop, sub := props[0], props[1:]
		return func(r *row) graph.Value {
			e := r.edges[slot]
			if e == nil {
				return graph.Null()
			}
			return descend(e.Get(prop), sub)
		}, false, nil
	}
	return nil, false, domain.NewSpecError(path, "unknown alias %q", alias)
}

// nodeScope resolves anchor fields against a scanned node.
type nodeScope struct{ p *plan }

func (s nodeScope) field(path, ref string) (accessor[graph.Node], bool, error) {
	alias, props := splitRef(ref)
	if alias != s.p.anchor.alias {
		return nil, false, domain.NewSpecError(path, "unknown alias %q", alias)
	}
	label := s.p.anchor.label
	if err := s.p.checkNodeField(path, ref, label, props); err != nil {
		return nil, false, err
	}
	prop, sub := props[0], props[1:]
	return func(n graph.Node) graph.Value { return descend(n.Get(prop), sub) }, s.p.isTemporal(label, prop), nil
}

// outScope resolves output column names.
type outScope []string

func (s outScope) field(path, ref string) (accessor[Row], bool, error) {
	if slices.Contains(s, ref) {
		return func(r Row) graph.Value { return r[ref] }, false, nil
	}
	alias, props := splitRef(ref)
	if slices.Contains(s, alias) {
		return func(r Row) graph.Value { return descend(r[alias], props) }, false, nil
	}
	return nil, false, domain.NewSpecError(path, "unknown output column %q", ref)
}

func (p *plan) checkNodeField(path, ref string, label domain.Label, props []string) error {
	if len(props) == 0 {
		return domain.NewSpecError(path, "%q must be alias.property", ref)
	}
	prop := props[0]
	if prop == graph.FieldKey || prop == graph.FieldLabel {
		return nil
	}
	if label != "" {
		if !p.schema.HasNodeField(label, prop) {
			return domain.NewSpecError(path, "%s has no property %q", label, prop)
		}
		return nil
	}
	for _, l := range p.schema.Labels() {
		if p.schema.HasNodeField(l, prop) {
			return nil
		}
	}
	return domain.NewSpecError(path, "no label declares property %q", prop)
}

func (p *plan) checkEdgeField(path, ref string, types []domain.EdgeType, props []string) error {
	if len(props) == 0 {
		return domain.NewSpecError(path, "%q must be alias.property", ref)
	}
	prop := props[0]
	if prop == graph.FieldLabel {
		return nil
	}
	if len(types) == 0 {
		types = p.schema.EdgeTypes()
	}
	for _, t := range types {
		if p.schema.HasEdgeField(t, prop) {
			return nil
		}
	}
	return domain.NewSpecError(path, "no edge type of %v declares property %q", types, prop)
}

func (p *plan) isTemporal(label domain.Label, prop string) bool {
	def, ok := p.schema.Label(label)
	return ok && slices.Contains(def.TimeFields, prop)
}
