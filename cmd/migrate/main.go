package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libreviews/revdal/internal/app"
	"github.com/libreviews/revdal/internal/metrics"
	"github.com/libreviews/revdal/internal/migration"
	"github.com/libreviews/revdal/internal/report"
	"github.com/libreviews/revdal/internal/validate"
	"github.com/rs/zerolog"
)

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	os.Exit(run())
}

func run() int {
	// CLI flags
	configPath := flag.String("config", getConfigPath(), "config file path")
	table := flag.String("table", "", "migrate a single kind (kind, source or target table name)")
	dryRun := flag.Bool("dry-run", false, "fetch, transform and reconcile without writing to the target")
	validateOnly := flag.Bool("validate-only", false, "skip migration and only validate the target")
	batchSize := flag.Int("batch-size", 0, "records per batch (default from config)")
	verbose := flag.Bool("verbose", false, "debug logging and SQL statements")
	flag.Parse()

	cfg, log, err := app.Setup(*configPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	if *batchSize > 0 {
		cfg.Migration.BatchSize = *batchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New("migrate")
	defer func() {
		if err := rec.Push(context.Background(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Msg("failed to push metrics")
		}
	}()

	reporter := report.NewWriter(cfg.Migration.ReportDir, app.Uploader(cfg, log), "migrations", log)
	opts := migration.Options{
		BatchSize:     cfg.Migration.BatchSize,
		DryRun:        *dryRun,
		ValidateOnly:  *validateOnly,
		Table:         *table,
		ApplySchema:   cfg.Migration.ApplySchema,
		SourceTimeout: cfg.SourceTimeout(),
		QueryTimeout:  cfg.QueryTimeout(),
	}

	target, err := app.OpenTarget(ctx, cfg, *verbose, log)
	if err != nil {
		return failBeforeRun(ctx, reporter, opts, err, log)
	}
	defer target.Close()

	src, err := app.OpenSource(ctx, cfg, log)
	if err != nil {
		return failBeforeRun(ctx, reporter, opts, err, log)
	}
	defer src.Close(context.Background())

	locker, closeLocker, err := app.Locker(ctx, cfg)
	if err != nil {
		return failBeforeRun(ctx, reporter, opts, err, log)
	}
	defer closeLocker()

	v := validate.New(src, target, validate.Options{
		SampleSize:    cfg.Migration.SampleSize,
		JoinWarnRatio: cfg.Migration.JoinWarnRatio,
		Timeout:       cfg.QueryTimeout(),
	}, log)

	o := migration.New(src, target, opts, log,
		migration.WithIndexer(app.Indexer(ctx, cfg, log)),
		migration.WithValidator(v),
		migration.WithReporter(reporter),
		migration.WithMetrics(rec),
		migration.WithLocker(locker),
	)
	result, err := o.Run(ctx)
	if err != nil || result.Status() != migration.StatusSucceeded {
		return 1
	}
	return 0
}

// failBeforeRun reports a connection failure that happened before the
// orchestrator could start, so that every failure leaves a report behind.
func failBeforeRun(ctx context.Context, reporter migration.Reporter, opts migration.Options, err error, log zerolog.Logger) int {
	log.Error().Err(err).Msg("migration failed to initialize")
	run := migration.FailedRun(opts, err)
	if rerr := reporter.Report(ctx, run); rerr != nil {
		log.Error().Err(rerr).Msg("failed to write report")
	}
	return 1
}
