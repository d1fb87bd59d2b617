package report

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultWorkers bounds concurrent anchor expansion.
const DefaultWorkers = 8

// Options configures an Engine.
type Options struct {
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
}

// Engine runs report specs against a graph store.
type Engine struct {
	store  graph.Store
	schema *domain.Schema
	opts   Options
	log    *slog.Logger
}

// New creates an Engine reading from store.
func New(store graph.Store, schema *domain.Schema, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:  store,
		schema: schema,
		opts:   opts,
		log:    log.With("component", "report"),
	}
}

// Validate checks spec against the engine's schema.
func (e *Engine) Validate(spec Spec) error {
	return Validate(e.schema, spec)
}

// Run validates and executes spec. Invalid specs fail before any traversal
// with an error wrapping domain.ErrInvalidReportSpec; no partial result is
// returned on failure.
func (e *Engine) Run(ctx context.Context, spec Spec) (Result, error) {
	ctx, span := otel.Tracer("engine/report").Start(ctx, "report.run",
		trace.WithAttributes(attribute.String("report.name", spec.Name)))
	defer span.End()

	start := time.Now()
	res, err := e.run(ctx, spec)
	e.opts.Metrics.observe(spec.Name, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.WarnContext(ctx, "report: run failed", "report", spec.Name, "error", err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("report.rows", len(res.Rows)))
	e.log.InfoContext(ctx, "report: run complete",
		"report", spec.Name,
		"rows", len(res.Rows),
		"duration", time.Since(start),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, spec Spec) (Result, error) {
	p, err := compile(e.schema, spec)
	if err != nil {
		return Result{}, err
	}
	rows, err := e.match(ctx, p)
	if err != nil {
		return Result{}, err
	}
	out := p.finalize(p.project(rows))
	if out == nil {
		out = []Row{}
	}
	return Result{Name: spec.Name, Columns: p.outputs, Rows: out}, nil
}

// Metrics are the report engine's Prometheus series. A nil *Metrics records
// nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the report series on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		runs:     reg.Counter("claimgraph_report_runs_total", "Report runs by outcome", "report", "outcome"),
		duration: reg.Histogram("claimgraph_report_duration_seconds", "Report run duration", nil, "report"),
	}
}

func (m *Metrics) observe(name string, err error, d time.Duration) {
	if m == nil {
		return
	}
	if name == "" {
		name = "adhoc"
	}
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrInvalidReportSpec):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	m.runs.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}
