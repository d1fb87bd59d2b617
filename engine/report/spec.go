// Package report runs declarative reports over the insurance graph: a
// pattern of hops is matched from an anchor label, rows are filtered,
// derived, grouped and aggregated, then ordered and limited. Specs are data,
// loaded from YAML or JSON and validated against the schema before any
// traversal starts.
package report

import (
	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
)

// Spec is a report specification.
type Spec struct {
	Name         string        `json:"name" yaml:"name"`
	Description  string        `json:"description,omitempty" yaml:"description"`
	Pattern      []Hop         `json:"pattern" yaml:"pattern"`
	Filters      []Predicate   `json:"filters,omitempty" yaml:"filters"`
	Derive       []Derivation  `json:"derive,omitempty" yaml:"derive"`
	GroupBy      []Column      `json:"groupBy,omitempty" yaml:"groupBy"`
	Aggregations []Aggregation `json:"aggregations,omitempty" yaml:"aggregations"`
	Columns      []Column      `json:"columns,omitempty" yaml:"columns"`
	Having       []Predicate   `json:"having,omitempty" yaml:"having"`
	OrderBy      []Order       `json:"orderBy,omitempty" yaml:"orderBy"`
	Limit        *int          `json:"limit,omitempty" yaml:"limit"`
}

// Hop is one step of a pattern. The first hop is the anchor and only sets
// Alias and Label.
type Hop struct {
	Alias string       `json:"alias" yaml:"alias"`
	Label domain.Label `json:"label,omitempty" yaml:"label"`
	// From defaults to the previous hop's alias.
	From      string            `json:"from,omitempty" yaml:"from"`
	Edge      []domain.EdgeType `json:"edge,omitempty" yaml:"edge"`
	Direction string            `json:"direction,omitempty" yaml:"direction"`
	EdgeAlias string            `json:"edgeAlias,omitempty" yaml:"edgeAlias"`
	// Optional hops keep the row with null bindings when nothing matches.
	Optional bool `json:"optional,omitempty" yaml:"optional"`
}

// Predicate is a leaf comparison (Field, Op), a group (Any or All) or a
// negation (Not).
type Predicate struct {
	Field string `json:"field,omitempty" yaml:"field"`
	Op    string `json:"op,omitempty" yaml:"op"`
	Value any    `json:"value,omitempty" yaml:"value"`
	// Ref compares against another field instead of Value.
	Ref        string  `json:"ref,omitempty" yaml:"ref"`
	IgnoreCase bool    `json:"ignoreCase,omitempty" yaml:"ignoreCase"`
	Meters     float64 `json:"meters,omitempty" yaml:"meters"`

	Any []Predicate `json:"any,omitempty" yaml:"any"`
	All []Predicate `json:"all,omitempty" yaml:"all"`
	Not *Predicate  `json:"not,omitempty" yaml:"not"`
}

// Predicate operators.
const (
	OpEq             = "eq"
	OpNe             = "ne"
	OpGt             = "gt"
	OpGte            = "gte"
	OpLt             = "lt"
	OpLte            = "lte"
	OpBetween        = "between"
	OpContains       = "contains"
	OpContainsAny    = "contains_any"
	OpStartsWith     = "starts_with"
	OpIn             = "in"
	OpExists         = "exists"
	OpWithinDistance = "within_distance"
	OpBeyondDistance = "beyond_distance"
)

// Derivation computes a categorical value: the first matching case wins,
// otherwise Default.
type Derivation struct {
	Alias   string `json:"alias" yaml:"alias"`
	Cases   []Case `json:"cases" yaml:"cases"`
	Default any    `json:"default" yaml:"default"`
}

// Case is one derive rule.
type Case struct {
	When Predicate `json:"when" yaml:"when"`
	Then any       `json:"then" yaml:"then"`
}

// Column is an output column, a group key or a top output.
type Column struct {
	// Name defaults to Field.
	Name  string `json:"name,omitempty" yaml:"name"`
	Field string `json:"field" yaml:"field"`
	// DistanceTo turns a point field into meters from this center.
	DistanceTo *graph.Point `json:"distanceTo,omitempty" yaml:"distanceTo"`
	Precision  *int         `json:"precision,omitempty" yaml:"precision"`
	Format     string       `json:"format,omitempty" yaml:"format"`
}

// OutputName is the column's name in result rows.
func (c Column) OutputName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Field
}

// Aggregation functions.
const (
	FnCount   = "count"
	FnSum     = "sum"
	FnAvg     = "avg"
	FnMin     = "min"
	FnMax     = "max"
	FnCollect = "collect"
	FnTop     = "top"
)

// Aggregation computes one output per group. Top sorts the group's rows by
// SortBy, keeps N and emits each of Outputs as a column (a list when N > 1).
type Aggregation struct {
	Fn        string `json:"fn" yaml:"fn"`
	Field     string `json:"field,omitempty" yaml:"field"`
	Alias     string `json:"alias,omitempty" yaml:"alias"`
	Distinct  bool   `json:"distinct,omitempty" yaml:"distinct"`
	Precision *int   `json:"precision,omitempty" yaml:"precision"`
	Format    string `json:"format,omitempty" yaml:"format"`

	N       int      `json:"n,omitempty" yaml:"n"`
	SortBy  []Order  `json:"sortBy,omitempty" yaml:"sortBy"`
	Outputs []Column `json:"outputs,omitempty" yaml:"outputs"`
}

// Order is one sort key. Direction is "asc" (default) or "desc".
type Order struct {
	Field     string `json:"field" yaml:"field"`
	Direction string `json:"direction,omitempty" yaml:"direction"`
}

// Row maps output column names to values.
type Row map[string]graph.Value

// Result is the output of a report run. An empty match is zero rows.
type Result struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Maps renders the rows as plain Go values, for JSON and protobuf encoders.
func (r Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v.Any()
		}
		out[i] = m
	}
	return out
}
