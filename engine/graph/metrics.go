package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/claimgraph/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsGauges mirrors Store.Stats into per-label and per-type gauges.
type StatsGauges struct {
	nodes *prometheus.GaugeVec
	edges *prometheus.GaugeVec
}

// NewStatsGauges registers the graph size gauges on reg.
func NewStatsGauges(reg *metrics.Registry) *StatsGauges {
	return &StatsGauges{
		nodes: reg.Gauge("claimgraph_graph_nodes", "Nodes stored per label", "label"),
		edges: reg.Gauge("claimgraph_graph_edges", "Edges stored per type", "type"),
	}
}

// Refresh reads the store's counters once. Labels that disappeared since the
// last refresh are reset.
func (g *StatsGauges) Refresh(ctx context.Context, s Store) (Stats, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	g.nodes.Reset()
	g.edges.Reset()
	for l, n := range st.Nodes {
		g.nodes.WithLabelValues(string(l)).Set(float64(n))
	}
	for t, n := range st.Edges {
		g.edges.WithLabelValues(string(t)).Set(float64(n))
	}
	return st, nil
}

// Poll refreshes the gauges every interval until ctx is done.
func (g *StatsGauges) Poll(ctx context.Context, s Store, interval time.Duration, log *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := g.Refresh(ctx, s); err != nil && ctx.Err() == nil {
			log.Warn("graph: stats refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
