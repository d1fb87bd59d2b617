package ingest

import (
	"github.com/WessleyAI/claimgraph/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the importer's Prometheus series. A nil *Metrics records
// nothing.
type Metrics struct {
	records    *prometheus.CounterVec
	nodes      *prometheus.CounterVec
	edges      *prometheus.CounterVec
	unresolved *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	dlq        *prometheus.CounterVec
}

// NewMetrics registers the importer series on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		records:    reg.Counter("claimgraph_import_records_total", "Records processed by outcome", "label", "outcome"),
		nodes:      reg.Counter("claimgraph_import_nodes_total", "Nodes written", "label", "op"),
		edges:      reg.Counter("claimgraph_import_edges_total", "Edges written", "type", "op"),
		unresolved: reg.Counter("claimgraph_import_unresolved_total", "References dropped because the target is missing", "label"),
		duration:   reg.Histogram("claimgraph_import_batch_duration_seconds", "Batch import duration", nil, "label"),
		dlq:        reg.Counter("claimgraph_import_dlq_total", "Batches sent to the dead letter queue", "label"),
	}
}

func (m *Metrics) observe(s Summary) {
	if m == nil {
		return
	}
	l := string(s.Label)
	m.records.WithLabelValues(l, "imported").Add(float64(s.Records - s.Skipped))
	m.records.WithLabelValues(l, "skipped").Add(float64(s.Skipped))
	m.nodes.WithLabelValues(l, "created").Add(float64(s.NodesCreated))
	m.nodes.WithLabelValues(l, "updated").Add(float64(s.NodesUpdated))
	m.unresolved.WithLabelValues(l).Add(float64(s.Unresolved))
	m.duration.WithLabelValues(l).Observe(s.Duration.Seconds())
}

func (m *Metrics) edge(typ string, created bool) {
	if m == nil {
		return
	}
	op := "updated"
	if created {
		op = "created"
	}
	m.edges.WithLabelValues(typ, op).Inc()
}

func (m *Metrics) deadLetter(label string) {
	if m == nil {
		return
	}
	m.dlq.WithLabelValues(label).Inc()
}
