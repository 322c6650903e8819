package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aevon-lab/dimledger/internal/aggregation"
	"github.com/aevon-lab/dimledger/internal/core/config"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
	"github.com/aevon-lab/dimledger/internal/core/quality"
	"github.com/aevon-lab/dimledger/internal/core/storage"
	"github.com/aevon-lab/dimledger/internal/core/storage/memory"
	"github.com/aevon-lab/dimledger/internal/core/storage/postgres"
	"github.com/aevon-lab/dimledger/internal/ingestion"
	"github.com/aevon-lab/dimledger/internal/merge"
	"github.com/aevon-lab/dimledger/internal/metrics"
	"github.com/aevon-lab/dimledger/internal/migrations"
	"github.com/aevon-lab/dimledger/internal/pipeline"
	"github.com/aevon-lab/dimledger/internal/server"
)

// app is the wired process: stores, engines, runner and decoder.
type app struct {
	cfg     *config.Config
	dims    storage.DimensionStore
	facts   storage.FactStore
	runs    storage.RunLog
	runner  *pipeline.Runner
	decoder *ingestion.Decoder
	health  server.HealthChecker
	closers []io.Closer
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig(opts *RootOptions, logOut io.Writer) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupLogger(cfg.Logging, opts.Verbose, logOut)
	return cfg, nil
}

func setupLogger(lc config.LoggingConfig, verbose bool, w io.Writer) {
	level := lc.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// openApp wires every component for cfg. With database.type=memory the stores
// live only as long as the process.
func openApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.Database.Type {
	case "memory":
		slog.Warn("[App] Using in-memory storage; state is lost on exit")
		a.dims = memory.NewDimensionStore()
		a.facts = memory.NewFactStore()
		a.runs = memory.NewRunLog()
	case "postgres":
		if err := a.openPostgres(ctx); err != nil {
			a.Close()
			return nil, err
		}
	default:
		return nil, WrapExitError(ExitCommandError, "unsupported database type", fmt.Errorf("%q", cfg.Database.Type))
	}

	detector := dimension.NewDetector(cfg.Dimension.TrackedAttributes, cfg.Dimension.Policy())
	engine := merge.NewEngine(a.dims, a.dims.Allocator(), detector, merge.Options{
		WorkerCount:        cfg.Merge.WorkerCount,
		MaxConflictRetries: cfg.Merge.MaxConflictRetries,
	})

	agg, err := aggregation.NewAggregator(a.dims, a.facts, aggregation.Parameter{
		WorkerCount: cfg.Merge.WorkerCount,
		Measures:    fact.BookingMeasures,
	})
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build aggregator", err)
	}

	gate := quality.NewGate(cfg.QualityRules)
	snapRules, txnRules := gate.RuleCount()
	slog.Info("[App] Quality gate ready", "snapshot_rules", snapRules, "transaction_rules", txnRules)

	var rec *metrics.Recorder
	if reg != nil {
		rec = metrics.New(reg)
	}
	a.runner = pipeline.NewRunner(gate, engine, agg, a.runs, pipeline.WithMetrics(rec))
	a.decoder = ingestion.NewDecoder(cfg.Dimension.NaturalKeyField, cfg.Facts.NaturalKeyField, cfg.Facts.CategoryField)
	return a, nil
}

func (a *app) openPostgres(ctx context.Context) error {
	adapter, err := postgres.NewAdapter(a.cfg.Database.DSN, a.cfg.Database.MaxOpenConns, a.cfg.Database.MaxIdleConns)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize database", err)
	}
	a.closers = append(a.closers, adapter)
	a.health = adapter

	if err := migrations.RunMigrations(adapter.DB(), a.cfg.Database.AutoMigrate); err != nil {
		return WrapExitError(ExitCommandError, "failed to run database migrations", err)
	}
	if err := adapter.ValidateSchema(ctx); err != nil {
		return WrapExitError(ExitCommandError, "database schema is incomplete", err)
	}

	dims, err := postgres.NewDimensionAdapter(adapter.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare dimension statements", err)
	}
	// closed before the pool
	a.closers = append([]io.Closer{dims}, a.closers...)

	a.dims = dims
	a.facts = postgres.NewFactAdapter(adapter.DB())
	a.runs = postgres.NewRunLogAdapter(adapter.DB())
	return nil
}

// Close releases prepared statements and the connection pool.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Error("[App] Close failed", "error", err)
		}
	}
	a.closers = nil
}
