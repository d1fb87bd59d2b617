package report

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"golang.org/x/sync/errgroup"
)

// row is one pattern match. Unmatched optional bindings are nil.
type row struct {
	nodes   []*graph.Node
	edges   []*graph.Edge
	derived []graph.Value
}

func (r *row) clone() *row {
	return &row{
		nodes: slices.Clone(r.nodes),
		edges: slices.Clone(r.edges),
	}
}

// match scans the anchor label and expands every anchor concurrently. Rows
// come back in anchor scan order, filtered and derived.
func (e *Engine) match(ctx context.Context, p *plan) ([]*row, error) {
	var anchors []graph.Node
	for n, err := range e.store.ScanNodes(ctx, p.anchor.label, p.anchor.pred) {
		if err != nil {
			return nil, fmt.Errorf("report: scan %s: %w", p.anchor.label, err)
		}
		anchors = append(anchors, n)
	}

	results := make([][]*row, len(anchors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, a := range anchors {
		g.Go(func() error {
			rows, err := e.expand(gctx, p, a)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// expand walks the hops depth first from one anchor.
func (e *Engine) expand(ctx context.Context, p *plan, anchor graph.Node) ([]*row, error) {
	cur := &row{
		nodes: make([]*graph.Node, len(p.nodeLabels)),
		edges: make([]*graph.Edge, len(p.edgeTypes)),
	}
	cur.nodes[0] = &anchor
	used := make(map[graph.EdgeRef]bool)

	var out []*row
	var walk func(i int) error
	walk = func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i == len(p.hops) {
			r := cur.clone()
			if p.filter != nil && !p.filter(r) {
				return nil
			}
			p.deriveInto(r)
			out = append(out, r)
			return nil
		}
		h := p.hops[i]
		from := cur.nodes[h.from]
		if from == nil {
			if h.optional {
				return walk(i + 1)
			}
			return nil
		}

		steps, err := e.store.Traverse(ctx, from.Ref, h.types, h.dir)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("report: traverse %s: %w", from.Ref, err)
		}
		matched := false
		for _, s := range steps {
			if used[s.Edge.Ref] {
				continue
			}
			if h.label != "" && s.Node.Ref.Label != h.label {
				continue
			}
			if !h.bind {
				bound := cur.nodes[h.to]
				if bound == nil || bound.Ref != s.Node.Ref {
					continue
				}
			}
			matched = true
			used[s.Edge.Ref] = true
			if h.bind {
				cur.nodes[h.to] = &s.Node
			}
			if h.edge >= 0 {
				cur.edges[h.edge] = &s.Edge
			}
			err := walk(i + 1)
			delete(used, s.Edge.Ref)
			if h.bind {
				cur.nodes[h.to] = nil
			}
			if h.edge >= 0 {
				cur.edges[h.edge] = nil
			}
			if err != nil {
				return err
			}
		}
		if !matched && h.optional {
			return walk(i + 1)
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return out, nil
}

// deriveInto evaluates the derivations in order; the first matching case
// wins.
func (p *plan) deriveInto(r *row) {
	r.derived = make([]graph.Value, len(p.derive))
	for _, d := range p.derive {
		v := d.def
		for _, c := range d.cases {
			if c.when(r) {
				v = c.then
				break
			}
		}
		r.derived[d.slot] = v
	}
}
