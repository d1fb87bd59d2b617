package graph

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/WessleyAI/claimgraph/engine/domain"
)

type memNode struct {
	ref   NodeRef
	props Props
}

type indexKey struct {
	label domain.Label
	field string
	token string
}

// MemoryStore is an in-memory Store. Property bags are copy-on-write, so a
// reader holding a Node never observes a later update.
type MemoryStore struct {
	schema Schema

	mu      sync.RWMutex
	nodes   map[NodeRef]*memNode
	order   map[domain.Label][]NodeRef
	edges   map[EdgeRef]Props
	out     map[NodeRef][]EdgeRef
	in      map[NodeRef][]EdgeRef
	index   map[indexKey][]NodeRef
	indexed map[domain.Label][]string
	closed  bool
}

// NewMemoryStore creates an empty store. Secondary indexes are built for the
// schema's indexed fields.
func NewMemoryStore(schema Schema) *MemoryStore {
	s := &MemoryStore{schema: schema, indexed: make(map[domain.Label][]string)}
	if schema != nil {
		for _, l := range schema.Labels() {
			if f := schema.IndexedFields(l); len(f) > 0 {
				s.indexed[l] = f
			}
		}
	}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.nodes = make(map[NodeRef]*memNode)
	s.order = make(map[domain.Label][]NodeRef)
	s.edges = make(map[EdgeRef]Props)
	s.out = make(map[NodeRef][]EdgeRef)
	s.in = make(map[NodeRef][]EdgeRef)
	s.index = make(map[indexKey][]NodeRef)
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("graph: memory store closed: %w", domain.ErrBackendUnavailable)
	}
	return nil
}

// UpsertNode implements Store.
func (s *MemoryStore) UpsertNode(ctx context.Context, label domain.Label, key string, props Props) (NodeRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return NodeRef{}, false, err
	}
	ref := NodeRef{Label: label, Key: key}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return ref, false, err
	}

	n, ok := s.nodes[ref]
	if !ok {
		n = &memNode{ref: ref, props: props.Clone()}
		s.nodes[ref] = n
		s.order[label] = append(s.order[label], ref)
		s.reindex(ref, nil, n.props)
		return ref, true, nil
	}
	old := n.props
	n.props = old.Merge(props)
	s.reindex(ref, old, n.props)
	return ref, false, nil
}

// reindex moves ref between index buckets for every indexed field whose
// value changed. Must hold mu.
func (s *MemoryStore) reindex(ref NodeRef, old, cur Props) {
	for _, f := range s.indexed[ref.Label] {
		ov, hadOld := old[f]
		nv, hasNew := cur[f]
		if hadOld && hasNew && Equal(ov, nv) {
			continue
		}
		if hadOld && !ov.IsNull() {
			k := indexKey{ref.Label, f, indexToken(ov)}
			s.index[k] = slices.DeleteFunc(s.index[k], func(r NodeRef) bool { return r == ref })
			if len(s.index[k]) == 0 {
				delete(s.index, k)
			}
		}
		if hasNew && !nv.IsNull() {
			k := indexKey{ref.Label, f, indexToken(nv)}
			s.index[k] = append(s.index[k], ref)
		}
	}
}

// indexToken canonicalizes a value for index lookups; numbers that compare
// equal share a token.
func indexToken(v Value) string {
	if f, ok := v.Float64(); ok {
		return fmt.Sprintf("n:%g", f)
	}
	return v.kind.String() + ":" + v.String()
}

// FindNode implements Store.
func (s *MemoryStore) FindNode(ctx context.Context, label domain.Label, key string) (Node, error) {
	if err := ctx.Err(); err != nil {
		return Node{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Node{}, err
	}
	n, ok := s.nodes[NodeRef{Label: label, Key: key}]
	if !ok {
		return Node{}, fmt.Errorf("graph: find %s %q: %w", label, key, domain.ErrNotFound)
	}
	return Node{Ref: n.ref, Props: n.props}, nil
}

// FindBy implements Store. Indexed fields use the secondary index, others
// fall back to a scan of the label.
func (s *MemoryStore) FindBy(ctx context.Context, label domain.Label, field string, value Value) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []Node
	if slices.Contains(s.indexed[label], field) {
		for _, ref := range s.index[indexKey{label, field, indexToken(value)}] {
			n := s.nodes[ref]
			out = append(out, Node{Ref: n.ref, Props: n.props})
		}
		return out, nil
	}
	for _, ref := range s.order[label] {
		n := Node{Ref: s.nodes[ref].ref, Props: s.nodes[ref].props}
		if Equal(n.Get(field), value) {
			out = append(out, n)
		}
	}
	return out, nil
}

// UpsertEdge implements Store.
func (s *MemoryStore) UpsertEdge(ctx context.Context, typ domain.EdgeType, from, to NodeRef, props Props) (EdgeRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return EdgeRef{}, false, err
	}
	ref := EdgeRef{Type: typ, From: from, To: to}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return ref, false, err
	}
	if _, ok := s.nodes[from]; !ok {
		return ref, false, fmt.Errorf("graph: edge %s source %s: %w", typ, from, domain.ErrNotFound)
	}
	if _, ok := s.nodes[to]; !ok {
		return ref, false, fmt.Errorf("graph: edge %s target %s: %w", typ, to, domain.ErrNotFound)
	}

	old, ok := s.edges[ref]
	if !ok {
		s.edges[ref] = props.Clone()
		s.out[from] = append(s.out[from], ref)
		s.in[to] = append(s.in[to], ref)
		return ref, true, nil
	}
	if s.schema != nil && s.schema.ReplacesEdgeProps(typ) {
		s.edges[ref] = props.Clone()
	} else {
		s.edges[ref] = old.Merge(props)
	}
	return ref, false, nil
}

// ScanNodes implements Store. The scan iterates a snapshot taken when
// iteration starts.
func (s *MemoryStore) ScanNodes(ctx context.Context, label domain.Label, pred NodePredicate) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		s.mu.RLock()
		if err := s.checkOpen(); err != nil {
			s.mu.RUnlock()
			yield(Node{}, err)
			return
		}
		snapshot := make([]Node, 0, len(s.order[label]))
		for _, ref := range s.order[label] {
			n := s.nodes[ref]
			snapshot = append(snapshot, Node{Ref: n.ref, Props: n.props})
		}
		s.mu.RUnlock()

		for _, n := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Node{}, err)
				return
			}
			if pred != nil && !pred(n) {
				continue
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

// Traverse implements Store. Steps follow edge insertion order, outgoing
// before incoming when dir is Both.
func (s *MemoryStore) Traverse(ctx context.Context, from NodeRef, types []domain.EdgeType, dir Direction) ([]Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := s.nodes[from]; !ok {
		return nil, fmt.Errorf("graph: traverse from %s: %w", from, domain.ErrNotFound)
	}

	match := func(t domain.EdgeType) bool { return len(types) == 0 || slices.Contains(types, t) }
	var steps []Step
	seen := make(map[EdgeRef]bool)
	if dir == Out || dir == Both {
		for _, ref := range s.out[from] {
			if !match(ref.Type) {
				continue
			}
			seen[ref] = true
			n := s.nodes[ref.To]
			steps = append(steps, Step{Edge: Edge{Ref: ref, Props: s.edges[ref]}, Node: Node{Ref: n.ref, Props: n.props}})
		}
	}
	if dir == In || dir == Both {
		for _, ref := range s.in[from] {
			if !match(ref.Type) || seen[ref] {
				continue
			}
			n := s.nodes[ref.From]
			steps = append(steps, Step{Edge: Edge{Ref: ref, Props: s.edges[ref]}, Node: Node{Ref: n.ref, Props: n.props}})
		}
	}
	return steps, nil
}

// DropAll implements Store.
func (s *MemoryStore) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.reset()
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}
	st := Stats{Nodes: make(map[domain.Label]int64), Edges: make(map[domain.EdgeType]int64)}
	for l, refs := range s.order {
		if len(refs) > 0 {
			st.Nodes[l] = int64(len(refs))
		}
	}
	for ref := range s.edges {
		st.Edges[ref.Type]++
	}
	return st, nil
}

// Close releases the store. Later calls fail with ErrBackendUnavailable.
func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.reset()
	return nil
}
