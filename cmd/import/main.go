// Command import loads a fixture file into the graph store, or publishes its
// batches to NATS for a running consumer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/engine/ingest"
	"github.com/WessleyAI/claimgraph/pkg/config"
	"github.com/WessleyAI/claimgraph/pkg/logging"
	"github.com/WessleyAI/claimgraph/pkg/metrics"
	"github.com/WessleyAI/claimgraph/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// options are the command-line settings layered over config.Config.
type options struct {
	fixture string
	publish bool
	drop    bool
}

func main() {
	var (
		configPath = flag.String("config", config.EnvOr("CLAIMGRAPH_CONFIG", ""), "YAML config file")
		fixture    = flag.String("fixture", "", "fixture JSON file (required)")
		store      = flag.String("store", "", "graph backend: memory or neo4j (overrides config)")
		publish    = flag.Bool("publish", false, "publish batches to NATS instead of writing the store")
		natsURL    = flag.String("nats", "", "NATS URL (overrides config)")
		strict     = flag.Bool("strict", false, "treat unresolved references as malformed records")
		workers    = flag.Int("workers", 0, "concurrent records per batch (overrides config)")
		rate       = flag.Float64("rate", -1, "records per second, 0 for unlimited (overrides config)")
		drop       = flag.Bool("drop", false, "drop the whole graph before importing")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *store != "" {
		cfg.Store = *store
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *strict {
		cfg.Import.StrictReferences = true
	}
	if *workers > 0 {
		cfg.Import.Workers = *workers
	}
	if *rate >= 0 {
		cfg.Import.Rate = *rate
	}
	if *fixture == "" {
		fmt.Fprintln(os.Stderr, "error: -fixture is required")
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.NewWriter(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{fixture: *fixture, publish: *publish, drop: *drop}
	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("import failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger, out io.Writer) error {
	fx, err := domain.LoadFixture(opts.fixture)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if opts.publish {
		if cfg.NATS.URL == "" {
			return errors.New("publish needs a NATS URL")
		}
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("claimgraph-import"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		ids, err := ingest.PublishFixture(ctx, nc, fx)
		if err != nil {
			return err
		}
		logger.Info("fixture published", "batches", len(ids), "subject", ingest.ImportSubject)
		return enc.Encode(map[string]any{"published": ids})
	}

	store, err := graph.Open(ctx, graph.Backend{
		Kind:     cfg.Store,
		URL:      cfg.Neo4j.URL,
		User:     cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, domain.Insurance, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close(context.Background())

	if opts.drop {
		if err := store.DropAll(ctx); err != nil {
			return fmt.Errorf("drop: %w", err)
		}
		logger.Warn("graph dropped before import")
	}

	var limiter *resilience.Limiter
	if cfg.Import.Rate > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Import.Rate, Burst: cfg.Import.Burst})
	}
	im := ingest.New(store, domain.Insurance, ingest.Options{
		Workers:          cfg.Import.Workers,
		StrictReferences: cfg.Import.StrictReferences,
		Limiter:          limiter,
		Metrics:          ingest.NewMetrics(metrics.NewBare()),
		Logger:           logger,
	})
	rep, err := im.ImportAll(ctx, fx)
	if encErr := enc.Encode(rep); encErr != nil && err == nil {
		err = encErr
	}
	if err != nil {
		return err
	}
	tot := rep.Totals()
	logger.Info("import complete",
		"records", tot.Records,
		"nodes_created", tot.NodesCreated,
		"edges_created", tot.EdgesCreated,
		"skipped", tot.Skipped,
		"unresolved", tot.Unresolved,
	)
	return nil
}
