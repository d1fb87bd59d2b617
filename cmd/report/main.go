// Command report runs a catalog report or a spec file against the graph
// store and prints the result as JSON.
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
	"text/tabwriter"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/engine/ingest"
	"github.com/WessleyAI/claimgraph/engine/report"
	"github.com/WessleyAI/claimgraph/pkg/config"
	"github.com/WessleyAI/claimgraph/pkg/logging"
)

type options struct {
	name     string
	specFile string
	fixture  string
	list     bool
	validate bool
}

func main() {
	var (
		configPath = flag.String("config", config.EnvOr("CLAIMGRAPH_CONFIG", ""), "YAML config file")
		name       = flag.String("name", "", "catalog report to run")
		specFile   = flag.String("spec", "", "YAML or JSON spec file to run")
		fixture    = flag.String("fixture", "", "fixture loaded into the store first (memory store only)")
		store      = flag.String("store", "", "graph backend: memory or neo4j (overrides config)")
		list       = flag.Bool("list", false, "list catalog reports and exit")
		validate   = flag.Bool("validate", false, "validate the report without running it")
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
	logger := logging.NewWriter(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{name: *name, specFile: *specFile, fixture: *fixture, list: *list, validate: *validate}
	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("report failed", "err", err)
		if errors.Is(err, domain.ErrInvalidReportSpec) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *slog.Logger, out io.Writer) error {
	catalog, err := report.Builtin()
	if err != nil {
		return err
	}
	if cfg.Report.Dir != "" {
		if _, err := catalog.LoadDir(cfg.Report.Dir, domain.Insurance); err != nil {
			return err
		}
	}

	if opts.list {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, s := range catalog.List() {
			fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Description)
		}
		return tw.Flush()
	}

	spec, err := pick(catalog, opts)
	if err != nil {
		return err
	}
	if opts.validate {
		if err := report.Validate(domain.Insurance, spec); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: ok\n", spec.Name)
		return nil
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

	if opts.fixture != "" {
		fx, err := domain.LoadFixture(opts.fixture)
		if err != nil {
			return err
		}
		im := ingest.New(store, domain.Insurance, ingest.Options{
			Workers:          cfg.Import.Workers,
			StrictReferences: cfg.Import.StrictReferences,
			Logger:           logger,
		})
		if _, err := im.ImportAll(ctx, fx); err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
	}

	engine := report.New(store, domain.Insurance, report.Options{Workers: cfg.Report.Workers, Logger: logger})
	res, err := engine.Run(ctx, spec)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// pick returns the spec named by opts: a file wins over a catalog name.
func pick(catalog *report.Catalog, opts options) (report.Spec, error) {
	switch {
	case opts.specFile != "":
		return report.LoadSpecFile(opts.specFile)
	case opts.name != "":
		spec, ok := catalog.Get(opts.name)
		if !ok {
			return report.Spec{}, fmt.Errorf("unknown report %q: %w", opts.name, domain.ErrNotFound)
		}
		return spec, nil
	default:
		return report.Spec{}, errors.New("one of -name, -spec or -list is required")
	}
}
