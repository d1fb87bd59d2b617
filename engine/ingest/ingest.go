// Package ingest provides the import pipeline that merges insurance records
// into the graph through decode, resolve and write stages. Imports are
// idempotent: replaying a batch converges on the same graph.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/pkg/fn"
	"github.com/WessleyAI/claimgraph/pkg/resilience"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Importer merges batches of records into a graph store.
type Importer struct {
	store  graph.Store
	schema *domain.Schema
	opts   Options
	log    *slog.Logger
	locks  *keyLocks
}

// New creates an Importer writing to store.
func New(store graph.Store, schema *domain.Schema, opts Options) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		store:  store,
		schema: schema,
		opts:   opts,
		log:    log.With("component", "ingest"),
		locks:  newKeyLocks(),
	}
}

// job is one record of a batch.
type job struct {
	index int
	rec   domain.Record
}

// resolved is a decoded record with its reference targets looked up.
type resolved struct {
	decoded
	edges      []plannedEdge
	unresolved int
}

type plannedEdge struct {
	typ      domain.EdgeType
	from, to graph.NodeRef
	props    graph.Props
}

// outcome is what writing one record did.
type outcome struct {
	created      bool
	edgesCreated int
	edgesUpdated int
	unresolved   int
}

// --- Pipeline Stages ---

// decodeStage validates a record and converts its fields.
func decodeStage(def domain.LabelDef) fn.Stage[job, decoded] {
	return func(_ context.Context, j job) fn.Result[decoded] {
		return fn.FromPair(decodeRecord(def, j.index, j.rec))
	}
}

// resolveStage looks up every link target. Missing targets are counted, or
// fail the record in strict mode.
func (im *Importer) resolveStage(ctx context.Context, d decoded) fn.Result[resolved] {
	r := resolved{decoded: d}
	for _, l := range d.links {
		targets, err := im.targets(ctx, l)
		if err != nil {
			return fn.Err[resolved](err)
		}
		if len(targets) == 0 {
			if im.opts.StrictReferences {
				return fn.Err[resolved](domain.NewRecordError(d.ref.Label, l.field,
					fmt.Sprintf("unresolved %s reference to %s", l.edge, l.target)))
			}
			r.unresolved++
			continue
		}
		for _, t := range targets {
			e := plannedEdge{typ: l.edge, from: d.ref, to: t, props: l.props}
			if l.inbound {
				e.from, e.to = t, d.ref
			}
			r.edges = append(r.edges, e)
		}
	}
	return fn.Ok(r)
}

// targets resolves a link by exact key, or by secondary lookup when the key
// is incomplete. Every lookup match is a target.
func (im *Importer) targets(ctx context.Context, l link) ([]graph.NodeRef, error) {
	if l.lookupField == "" {
		n, err := im.store.FindNode(ctx, l.target, l.key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []graph.NodeRef{n.Ref}, nil
	}
	nodes, err := im.store.FindBy(ctx, l.target, l.lookupField, l.lookup)
	if err != nil {
		return nil, err
	}
	return fn.Map(nodes, func(n graph.Node) graph.NodeRef { return n.Ref }), nil
}

// writeStage upserts the node and its edges while holding the node's key
// lock.
func (im *Importer) writeStage(ctx context.Context, r resolved) fn.Result[outcome] {
	unlock := im.locks.lock(r.ref)
	defer unlock()

	_, created, err := im.store.UpsertNode(ctx, r.ref.Label, r.ref.Key, r.props)
	if err != nil {
		return fn.Err[outcome](err)
	}
	out := outcome{created: created, unresolved: r.unresolved}
	for _, e := range r.edges {
		_, created, err := im.store.UpsertEdge(ctx, e.typ, e.from, e.to, e.props)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			out.unresolved++
			continue
		case err != nil:
			return fn.Err[outcome](err)
		}
		if created {
			out.edgesCreated++
		} else {
			out.edgesUpdated++
		}
		im.opts.Metrics.edge(string(e.typ), created)
	}
	return fn.Ok(out)
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.DebugContext(ctx, "stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.DebugContext(ctx, "stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// pipeline composes decode → resolve → write for records of def.
func (im *Importer) pipeline(def domain.LabelDef) fn.Stage[job, outcome] {
	log := im.log.With("label", def.Label)

	var write fn.Stage[resolved, outcome] = im.writeStage
	if im.opts.Limiter != nil {
		write = resilience.LimiterStageWait(im.opts.Limiter, write)
	}

	decodedS := fn.Then(LoggedTap[job]("decode", log), fn.TracedStage("ingest.decode", decodeStage(def)))
	resolvedS := fn.Then(decodedS, fn.Then(LoggedTap[decoded]("resolve", log), fn.TracedStage[decoded, resolved]("ingest.resolve", im.resolveStage)))
	return fn.Then(resolvedS, fn.Then(LoggedTap[resolved]("write", log), fn.TracedStage("ingest.write", write)))
}

// Import merges one batch. Malformed records are skipped and counted; a
// backend failure stops the batch and is returned together with the partial
// summary. Writes completed before the failure remain.
func (im *Importer) Import(ctx context.Context, b domain.Batch) (Summary, error) {
	return im.importBatch(ctx, uuid.NewString(), b)
}

// ImportAll imports a fixture's collections in dependency order.
func (im *Importer) ImportAll(ctx context.Context, fx domain.Fixture) (Report, error) {
	return im.ImportBatches(ctx, fx.Batches())
}

// ImportBatches imports batches in the order given, stopping at the first
// failing batch. References to labels imported later are dropped, so callers
// wanting a complete graph pass batches in domain.ImportOrder.
func (im *Importer) ImportBatches(ctx context.Context, batches []domain.Batch) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString()}
	for _, b := range batches {
		s, err := im.importBatch(ctx, rep.RunID, b)
		rep.Batches = append(rep.Batches, s)
		if err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
	}
	rep.Duration = time.Since(start)
	return rep, nil
}

func (im *Importer) importBatch(ctx context.Context, runID string, b domain.Batch) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: runID, Label: b.Label, Records: len(b.Records)}
	if err := im.schema.ValidateBatch(b); err != nil {
		return sum, fmt.Errorf("ingest: %w", err)
	}
	def, _ := im.schema.Label(b.Label)
	pipeline := im.pipeline(def)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, rec := range b.Records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := pipeline(gctx, job{index: i, rec: rec}).Unwrap()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if out.created {
					sum.NodesCreated++
				} else {
					sum.NodesUpdated++
				}
				sum.EdgesCreated += out.edgesCreated
				sum.EdgesUpdated += out.edgesUpdated
				sum.Unresolved += out.unresolved
			case errors.Is(err, domain.ErrMalformedRecord):
				sum.Skipped++
				if len(sum.Reasons) < maxReasons {
					sum.Reasons = append(sum.Reasons, fmt.Sprintf("record %d: %v", i, err))
				}
				im.log.Debug("ingest: record skipped", "label", b.Label, "record", i, "error", err)
			default:
				return fmt.Errorf("ingest: %s record %d: %w", b.Label, i, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	sum.Duration = time.Since(start)
	im.opts.Metrics.observe(sum)

	if err != nil {
		im.log.Error("ingest: batch failed",
			"run_id", runID,
			"label", b.Label,
			"error", err,
		)
		return sum, err
	}
	im.log.Info("ingest: batch imported",
		"run_id", runID,
		"label", b.Label,
		"records", sum.Records,
		"nodes_created", sum.NodesCreated,
		"edges_created", sum.EdgesCreated,
		"skipped", sum.Skipped,
		"unresolved", sum.Unresolved,
		"duration", sum.Duration,
	)
	return sum, nil
}
