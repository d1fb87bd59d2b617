package ingest

import (
	"log/slog"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/pkg/resilience"
)

const (
	// ImportSubject is the NATS subject batches are published to.
	ImportSubject = "claimgraph.import"
	// DoneSubject receives a Summary for every imported batch.
	DoneSubject = "claimgraph.import.done"
	// DLQSubject is the dead letter queue subject for failed batches.
	DLQSubject = "claimgraph.import.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
	// RetryHeader carries the number of failed attempts so far.
	RetryHeader = "X-Retry-Count"
	// DefaultWorkers is the record worker pool size per batch.
	DefaultWorkers = 8

	maxReasons = 10
)

// Options configures an Importer.
type Options struct {
	// Workers bounds concurrent records per batch. Zero means DefaultWorkers.
	Workers int
	// StrictReferences turns an unresolved reference into a malformed
	// record instead of dropping the edge.
	StrictReferences bool
	// Limiter throttles record writes when set.
	Limiter *resilience.Limiter
	Metrics *Metrics
	Logger  *slog.Logger
}

// Summary reports what one batch import did.
type Summary struct {
	RunID        string        `json:"run_id"`
	Label        domain.Label  `json:"label"`
	Records      int           `json:"records"`
	NodesCreated int           `json:"nodes_created"`
	NodesUpdated int           `json:"nodes_updated"`
	EdgesCreated int           `json:"edges_created"`
	EdgesUpdated int           `json:"edges_updated"`
	Skipped      int           `json:"skipped"`
	Unresolved   int           `json:"unresolved"`
	Reasons      []string      `json:"reasons,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Report aggregates the summaries of a multi-batch import.
type Report struct {
	RunID    string        `json:"run_id"`
	Batches  []Summary     `json:"batches"`
	Duration time.Duration `json:"duration_ns"`
}

// Totals sums the per-batch counters.
func (r Report) Totals() Summary {
	t := Summary{RunID: r.RunID, Duration: r.Duration}
	for _, s := range r.Batches {
		t.Records += s.Records
		t.NodesCreated += s.NodesCreated
		t.NodesUpdated += s.NodesUpdated
		t.EdgesCreated += s.EdgesCreated
		t.EdgesUpdated += s.EdgesUpdated
		t.Skipped += s.Skipped
		t.Unresolved += s.Unresolved
		t.Reasons = append(t.Reasons, s.Reasons...)
	}
	return t
}

// BatchMessage is the NATS payload for one batch.
type BatchMessage struct {
	ID    string       `json:"id"`
	Batch domain.Batch `json:"batch"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	ID      string       `json:"id"`
	Batch   domain.Batch `json:"batch"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}
