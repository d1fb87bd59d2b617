// Package graph stores the insurance property graph: typed nodes identified
// by (label, business key), typed directed edges, and the traversal and scan
// primitives the report engine runs on.
package graph

import (
	"maps"

	"github.com/WessleyAI/claimgraph/engine/domain"
)

// Reserved field names resolvable on every node.
const (
	FieldKey   = "_key"
	FieldLabel = "_label"
)

// NodeRef identifies a node by label and canonical business key.
type NodeRef struct {
	Label domain.Label `json:"label"`
	Key   string       `json:"key"`
}

func (r NodeRef) String() string { return string(r.Label) + "(" + r.Key + ")" }

// Props is a property bag. Bags handed out by a Store are shared snapshots
// and must not be modified; use Clone or Merge.
type Props map[string]Value

// Clone returns a shallow copy of p.
func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	return maps.Clone(p)
}

// Merge returns a new bag holding p overlaid with over.
func (p Props) Merge(over Props) Props {
	out := make(Props, len(p)+len(over))
	maps.Copy(out, p)
	maps.Copy(out, over)
	return out
}

// Node is a snapshot of a stored node.
type Node struct {
	Ref   NodeRef `json:"ref"`
	Props Props   `json:"props"`
}

// Get resolves a property, including the reserved _key and _label fields.
// Missing properties are null.
func (n Node) Get(field string) Value {
	switch field {
	case FieldKey:
		return String(n.Ref.Key)
	case FieldLabel:
		return String(string(n.Ref.Label))
	}
	return n.Props[field]
}

// EdgeRef identifies an edge: at most one edge per (type, from, to).
type EdgeRef struct {
	Type domain.EdgeType `json:"type"`
	From NodeRef         `json:"from"`
	To   NodeRef         `json:"to"`
}

// Edge is a snapshot of a stored edge.
type Edge struct {
	Ref   EdgeRef `json:"ref"`
	Props Props   `json:"props"`
}

// Get resolves an edge property. _label yields the edge type.
func (e Edge) Get(field string) Value {
	if field == FieldLabel {
		return String(string(e.Ref.Type))
	}
	return e.Props[field]
}

// Direction selects which edges Traverse follows.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case In:
		return "in"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// ParseDirection parses "out", "in" or "both". Empty means out.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "", "out":
		return Out, true
	case "in":
		return In, true
	case "both":
		return Both, true
	}
	return Out, false
}

// Step is one traversal hop: the edge followed and the node reached.
type Step struct {
	Edge Edge
	Node Node
}

// Stats reports node counts per label and edge counts per type.
type Stats struct {
	Nodes map[domain.Label]int64    `json:"nodes"`
	Edges map[domain.EdgeType]int64 `json:"edges"`
}

// NodePredicate filters scanned nodes. A nil predicate accepts everything.
type NodePredicate func(Node) bool

// Schema is the part of the schema a store needs.
type Schema interface {
	Labels() []domain.Label
	IndexedFields(domain.Label) []string
	ReplacesEdgeProps(domain.EdgeType) bool
}
