// Package migration drives a one-shot copy of every entity kind from the
// document store into the relational target, batch by batch in dependency
// order, then validates and reports the result.
package migration

import (
	"context"
	"errors"
	"time"

	"github.com/libreviews/revdal/internal/catalog"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/lock"
	"github.com/libreviews/revdal/internal/metrics"
	"github.com/libreviews/revdal/internal/reconcile"
	"github.com/libreviews/revdal/internal/search"
	"github.com/libreviews/revdal/internal/source"
	"github.com/libreviews/revdal/internal/validate"
	pkglogger "github.com/libreviews/revdal/pkg/logger"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 1000

// Options gate what a run does.
type Options struct {
	BatchSize    int
	DryRun       bool
	ValidateOnly bool
	// Table limits the run to one kind, by kind, source or target name.
	Table       string
	ApplySchema bool
	// SourceTimeout bounds each source call, QueryTimeout each target call
	// or batch transaction. Zero means no bound.
	SourceTimeout time.Duration
	QueryTimeout  time.Duration
}

// Validator checks the target after migration.
type Validator interface {
	Validate(ctx context.Context, kinds []catalog.Kind, explained map[string]int) ([]validate.Finding, error)
}

// Reporter flushes a finished run. It runs even after a failure.
type Reporter interface {
	Report(ctx context.Context, run *Run) error
}

// Orchestrator runs migrations. It holds no per-run state.
type Orchestrator struct {
	source    source.Store
	target    *database.Store
	opts      Options
	log       zerolog.Logger
	indexer   search.Indexer
	validator Validator
	reporter  Reporter
	metrics   *metrics.Recorder
	locker    lock.Locker
	now       func() time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithIndexer(i search.Indexer) Option { return func(o *Orchestrator) { o.indexer = i } }

func WithValidator(v Validator) Option { return func(o *Orchestrator) { o.validator = v } }

func WithReporter(r Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

func WithMetrics(m *metrics.Recorder) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithLocker(l lock.Locker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator. Without options it indexes nothing,
// validates nothing, reports nothing and takes no lock.
func New(src source.Store, target *database.Store, opts Options, log zerolog.Logger, options ...Option) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	o := &Orchestrator{
		source:  src,
		target:  target,
		opts:    opts,
		log:     log,
		indexer: search.Noop{},
		locker:  lock.Noop{},
		now:     time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// errKindAborted stops the current kind after a batch-level failure; the run
// moves on to the next kind.
var errKindAborted = errors.New("kind aborted")

// errInterrupted stops the run between batches.
var errInterrupted = errors.New("run interrupted")

// kindError attributes a fatal error to the kind being migrated.
type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string { return e.kind + ": " + e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func errorKind(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return ""
}

// Run executes one migration. The returned Run is complete even when err is
// set; err is the fatal error that moved the run to Failed, if any.
// Cancelling ctx lets the in-flight batch commit, then skips to Reporting.
func (o *Orchestrator) Run(ctx context.Context) (*Run, error) {
	run := NewRun(o.now(), o.opts)
	log := pkglogger.WithRunID(o.log, run.ID)
	log.Info().
		Bool("dry_run", o.opts.DryRun).
		Bool("validate_only", o.opts.ValidateOnly).
		Int("batch_size", o.opts.BatchSize).
		Str("table", o.opts.Table).
		Msg("migration started")

	kinds, lease, err := o.initialize(ctx)
	if lease != nil {
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("failed to release run lock")
			}
		}()
	}

	if err == nil && !o.opts.ValidateOnly {
		err = o.migrate(ctx, run, kinds, log)
	}
	if err == nil && ctx.Err() != nil {
		err = errInterrupted
	}
	if errors.Is(err, errInterrupted) {
		run.Interrupted = true
		err = nil
		log.Warn().Msg("migration interrupted, skipping validation")
	} else if err == nil {
		run.transition(StateValidating)
		err = o.validate(ctx, run, kinds, log)
	}

	if err != nil {
		run.addError(errorKind(err), err, o.now())
		o.metrics.Error(common.ErrorType(err))
		run.transition(StateFailed)
		log.Error().Err(err).Str("state", string(run.State)).Msg("migration failed")
	}

	o.report(ctx, run, log)
	return run, err
}

func (o *Orchestrator) initialize(ctx context.Context) ([]catalog.Kind, lock.Lease, error) {
	kinds := catalog.Plan()
	if o.opts.Table != "" {
		k, err := catalog.Lookup(o.opts.Table)
		if err != nil {
			return nil, nil, err
		}
		kinds = []catalog.Kind{k}
	}

	sctx, cancel := common.WithTimeout(ctx, o.opts.SourceTimeout)
	_, err := o.source.ListTables(sctx)
	cancel()
	if err != nil {
		return nil, nil, sourceErr(err)
	}
	tctx, cancel := common.WithTimeout(ctx, o.opts.QueryTimeout)
	err = o.target.Ping(tctx)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	lease, err := o.locker.Acquire(ctx, lock.Key(o.target.Prefix()))
	if err != nil {
		return nil, nil, err
	}

	if o.opts.ApplySchema && !o.opts.DryRun {
		if err := o.target.ApplySchemaMigrations(ctx); err != nil {
			return nil, lease, &common.ConnectivityError{Store: "target", Err: err}
		}
	}
	return kinds, lease, nil
}

func (o *Orchestrator) migrate(ctx context.Context, run *Run, kinds []catalog.Kind, log zerolog.Logger) error {
	run.transition(StateMigrating)
	env := catalog.Env{
		Store:      o.target,
		Reconciler: reconcile.New(o.target, reconcile.NewKnown()),
		DryRun:     o.opts.DryRun,
	}

	for i, k := range kinds {
		if ctx.Err() != nil {
			return errInterrupted
		}
		run.TableIndex = i
		err := o.migrateKind(ctx, run, env, k, log.With().Str("kind", k.Name()).Logger())
		switch {
		case errors.Is(err, errKindAborted):
			continue
		case errors.Is(err, errInterrupted):
			return err
		case err != nil:
			return &kindError{kind: k.Name(), err: err}
		}
	}
	return nil
}

func (o *Orchestrator) migrateKind(ctx context.Context, run *Run, env catalog.Env, k catalog.Kind, log zerolog.Logger) error {
	stats := run.kind(k.Name())
	start := o.now()
	defer func() { stats.Duration = o.now().Sub(start) }()

	// the in-flight batch always completes; ctx is only checked between batches
	work := context.WithoutCancel(ctx)

	sctx, cancel := common.WithTimeout(work, o.opts.SourceTimeout)
	total, err := o.source.Count(sctx, k.SourceTable())
	cancel()
	if err != nil {
		return sourceErr(err)
	}
	stats.SourceCount = total
	log.Info().Int64("source_count", total).Msg("migrating kind")

	if !o.opts.DryRun {
		tctx, cancel := common.WithTimeout(work, o.opts.QueryTimeout)
		err := o.clear(tctx, k, log)
		cancel()
		if err != nil {
			return err
		}
	}

	for offset := 0; ; {
		if ctx.Err() != nil {
			return errInterrupted
		}
		batchStart := o.now()
		sctx, cancel := common.WithTimeout(work, o.opts.SourceTimeout)
		recs, err := o.source.FetchBatch(sctx, k.SourceTable(), offset, o.opts.BatchSize)
		cancel()
		if err != nil {
			return sourceErr(err)
		}
		if len(recs) == 0 {
			break
		}

		tctx, cancel := common.WithTimeout(work, o.opts.QueryTimeout)
		res, err := k.MigrateBatch(tctx, env, offset, recs)
		cancel()
		stats.Batches++
		stats.Fetched += len(recs)
		o.metrics.Records(k.Name(), metrics.OutcomeFetched, len(recs))
		if errors.Is(err, common.ErrTransform) {
			run.addError(k.Name(), err, o.now())
			o.metrics.Error(common.ErrorType(err))
			log.Error().Err(err).Int("offset", offset).Msg("batch rejected, skipping rest of kind")
			return errKindAborted
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &common.ConnectivityError{Store: "target", Err: err}
		}
		if err != nil {
			return err
		}

		o.record(run, stats, k, res, log)
		o.index(work, k, res.Live, log)
		o.metrics.ObserveBatch(k.Name(), o.now().Sub(batchStart))
		log.Debug().
			Int("offset", offset).
			Int("fetched", len(recs)).
			Int("migrated", res.Migrated).
			Int("skipped", res.Skipped).
			Msg("batch committed")

		offset += len(recs)
		if len(recs) < o.opts.BatchSize {
			break
		}
	}

	if k.Class() == catalog.Versioned && !o.opts.DryRun {
		tctx, cancel := common.WithTimeout(work, o.opts.QueryTimeout)
		n, err := k.Relink(tctx, o.target)
		cancel()
		if err != nil {
			return &common.ConnectivityError{Store: "target", Err: err}
		}
		stats.Relinked = n
		if n > 0 {
			log.Info().Int64("relinked", n).Msg("legacy lineages relinked")
		}
	}

	stats.Completed = true
	log.Info().
		Int("migrated", stats.Migrated).
		Int("skipped", stats.Skipped).
		Int("batches", stats.Batches).
		Msg("kind migrated")
	return nil
}

// clear empties the kind's table before it is reseeded, together with every
// table that references it. A single-kind run refuses when a dependent table
// still holds rows, since those rows would be lost without being reseeded.
func (o *Orchestrator) clear(ctx context.Context, k catalog.Kind, log zerolog.Logger) error {
	deps := database.Dependents(k.Table())
	tables := make([]string, 0, len(deps)+1)
	counts := make(map[string]int64, len(deps)+1)
	for i := len(deps) - 1; i >= 0; i-- {
		if o.target.HasTable(deps[i]) {
			tables = append(tables, deps[i])
		}
	}
	tables = append(tables, k.Table())

	for _, t := range tables {
		n, err := o.target.Count(ctx, t)
		if err != nil {
			return &common.ConnectivityError{Store: "target", Err: err}
		}
		counts[t] = n
		if o.opts.Table != "" && t != k.Table() && n > 0 {
			return &common.DependentRowsError{Table: o.target.Table(k.Table()), Dependent: o.target.Table(t), Rows: n}
		}
	}

	if err := o.target.Clear(ctx, tables...); err != nil {
		return &common.ConnectivityError{Store: "target", Err: err}
	}
	for _, t := range tables {
		o.metrics.Records(k.Name(), metrics.OutcomeCleared, int(counts[t]))
		if counts[t] > 0 {
			log.Info().Str("table", o.target.Table(t)).Int64("rows", counts[t]).Msg("table cleared")
		}
	}
	return nil
}

func (o *Orchestrator) record(run *Run, stats *KindStats, k catalog.Kind, res catalog.BatchResult, log zerolog.Logger) {
	stats.Migrated += res.Migrated
	stats.Skipped += res.Skipped
	stats.Fixed += len(res.Fixes)
	stats.Backfilled += len(res.Backfills)

	o.metrics.Records(k.Name(), metrics.OutcomeMigrated, res.Migrated)
	o.metrics.Records(k.Name(), metrics.OutcomeSkipped, res.Skipped)
	o.metrics.Records(k.Name(), metrics.OutcomeFixed, len(res.Fixes))
	o.metrics.Records(k.Name(), metrics.OutcomeBackfilled, len(res.Backfills))

	for _, d := range res.Drops {
		log.Warn().
			Str("record_id", d.RecordID).
			Str("column", d.Column).
			Str("missing_id", d.MissingID).
			Msg("record dropped: required reference missing")
	}
	for _, f := range res.Fixes {
		log.Info().
			Str("record_id", f.RecordID).
			Str("column", f.Column).
			Str("missing_id", f.MissingID).
			Str("replacement", f.Replacement).
			Msg("optional reference replaced")
	}
	for _, b := range res.Backfills {
		log.Info().
			Str("record_id", b.RecordID).
			Str("column", b.Column).
			Str("from", b.From).
			Msg("field backfilled")
	}
}

// index hands committed live rows to the indexing collaborator. Failures are
// logged; the rows are already committed.
func (o *Orchestrator) index(ctx context.Context, k catalog.Kind, docs []search.Document, log zerolog.Logger) {
	if len(docs) == 0 {
		return
	}
	if bi, ok := o.indexer.(search.BatchIndexer); ok {
		if err := bi.IndexBatch(ctx, k.Name(), docs); err != nil {
			log.Warn().Err(err).Int("docs", len(docs)).Msg("batch indexing failed")
		}
		return
	}
	for _, d := range docs {
		if err := o.indexer.IndexEntity(ctx, k.Name(), d); err != nil {
			log.Warn().Err(err).Str("record_id", d.DocumentID()).Msg("indexing failed")
		}
	}
}

func (o *Orchestrator) validate(ctx context.Context, run *Run, kinds []catalog.Kind, log zerolog.Logger) error {
	if o.validator == nil {
		return nil
	}
	if o.opts.DryRun {
		log.Info().Msg("dry run: target data checks skipped")
		return nil
	}
	findings, err := o.validator.Validate(ctx, kinds, run.Skipped())
	run.Findings = append(run.Findings, findings...)
	for _, f := range findings {
		ev := log.Warn()
		if f.Severity == validate.SeverityError {
			ev = log.Error()
		}
		ev.Str("kind", f.Kind).Str("check", f.Check).Msg(f.Message)
	}
	return err
}

func (o *Orchestrator) report(ctx context.Context, run *Run, log zerolog.Logger) {
	failed := run.State == StateFailed
	run.transition(StateReporting)
	run.FinishedAt = o.now()

	status := run.Status()
	o.metrics.Finished(string(status), run.Duration())

	if o.reporter != nil {
		if err := o.reporter.Report(context.WithoutCancel(ctx), run); err != nil {
			log.Error().Err(err).Msg("failed to write report")
			run.addError("", err, o.now())
		}
	}

	if failed {
		run.transition(StateFailed)
	} else {
		run.transition(StateDone)
	}
	log.Info().
		Str("status", string(status)).
		Dur("duration", run.Duration()).
		Int("errors", len(run.Errors)).
		Msg("migration finished")
}

func sourceErr(err error) error {
	if errors.Is(err, common.ErrConnectivity) {
		return err
	}
	return &common.ConnectivityError{Store: "source", Err: err}
}
