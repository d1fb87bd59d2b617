// Command api serves the report catalog, ad-hoc reports and fixture imports
// over HTTP and gRPC, and consumes import batches from NATS when configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/engine/ingest"
	"github.com/WessleyAI/claimgraph/engine/report"
	"github.com/WessleyAI/claimgraph/engine/reportrpc"
	"github.com/WessleyAI/claimgraph/pkg/config"
	"github.com/WessleyAI/claimgraph/pkg/logging"
	"github.com/WessleyAI/claimgraph/pkg/metrics"
	"github.com/WessleyAI/claimgraph/pkg/mid"
	"github.com/WessleyAI/claimgraph/pkg/resilience"
	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
)

const statsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", config.EnvOr("CLAIMGRAPH_CONFIG", ""), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// newAPI wires the importer, report engine and catalog around store.
func newAPI(cfg config.Config, store graph.Store, reg *metrics.Registry, logger *slog.Logger) (*api, error) {
	var limiter *resilience.Limiter
	if cfg.Import.Rate > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Import.Rate, Burst: cfg.Import.Burst})
	}
	importer := ingest.New(store, domain.Insurance, ingest.Options{
		Workers:          cfg.Import.Workers,
		StrictReferences: cfg.Import.StrictReferences,
		Limiter:          limiter,
		Metrics:          ingest.NewMetrics(reg),
		Logger:           logger,
	})
	engine := report.New(store, domain.Insurance, report.Options{
		Workers: cfg.Report.Workers,
		Metrics: report.NewMetrics(reg),
		Logger:  logger,
	})

	catalog, err := report.Builtin()
	if err != nil {
		return nil, err
	}
	if cfg.Report.Dir != "" {
		n, err := catalog.LoadDir(cfg.Report.Dir, domain.Insurance)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded report specs", "dir", cfg.Report.Dir, "count", n)
	}

	return &api{
		store:    store,
		importer: importer,
		engine:   engine,
		catalog:  catalog,
		gauges:   graph.NewStatsGauges(reg),
		log:      logger.With("component", "api"),
	}, nil
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Graph store ---
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
	logger.Info("graph store ready", "backend", cfg.Store)

	reg := metrics.New()
	a, err := newAPI(cfg, store, reg, logger)
	if err != nil {
		return err
	}
	go a.gauges.Poll(ctx, store, statsInterval, logger)
	if cfg.HTTP.MetricsPort > 0 {
		reg.ServeAsync(cfg.HTTP.MetricsPort, logger)
	}

	// --- NATS import consumer ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("claimgraph-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		if _, err := ingest.StartConsumer(nc, a.importer); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		logger.Info("import consumer started", "subject", ingest.ImportSubject)
	}

	errCh := make(chan error, 2)

	// --- gRPC report service ---
	var gs *grpc.Server
	if cfg.HTTP.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer(grpc.UnaryInterceptor(reportrpc.LoggingInterceptor(logger)))
		reportrpc.Register(gs, reportrpc.NewServer(a.engine, a.catalog, logger))
		go func() {
			logger.Info("grpc server starting", "addr", cfg.HTTP.GRPCAddr)
			errCh <- gs.Serve(lis)
		}()
	}

	// --- HTTP server ---
	handler := mid.Chain(a.routes(),
		mid.RequestID,
		mid.Recover(logger),
		mid.OTel("claimgraph-api"),
		mid.Logger(logger),
		mid.CORS(cfg.HTTP.CORSOrigin),
	)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	// --- Graceful shutdown ---
	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	return errors.Join(serveErr, srv.Shutdown(shutCtx))
}
