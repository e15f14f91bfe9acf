// Package rollback clears migrated target tables in reverse dependency order.
package rollback

import (
	"context"
	"fmt"

	"github.com/libreviews/revdal/internal/catalog"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/lock"
	"github.com/libreviews/revdal/internal/metrics"
	"github.com/rs/zerolog"
)

// Options selects what a rollback clears.
type Options struct {
	// Table limits the rollback to one kind, by kind, source or target name.
	Table   string
	DryRun  bool
	Confirm bool
}

// TableResult is the outcome for one table.
type TableResult struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
	// Dependent marks a table cleared only because it references the
	// requested one.
	Dependent bool `json:"dependent,omitempty"`
	Missing   bool `json:"missing,omitempty"`
	Cleared   bool `json:"cleared"`
}

// Result lists the tables in the order they were processed.
type Result struct {
	DryRun bool          `json:"dry_run"`
	Tables []TableResult `json:"tables"`
}

// Rows sums the rows of every table.
func (r *Result) Rows() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

// Rollback clears target tables.
type Rollback struct {
	store   *database.Store
	locker  lock.Locker
	metrics *metrics.Recorder
	log     zerolog.Logger
}

// New creates a Rollback. A nil locker takes no lock.
func New(store *database.Store, locker lock.Locker, rec *metrics.Recorder, log zerolog.Logger) *Rollback {
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Rollback{store: store, locker: locker, metrics: rec, log: log}
}

// Order returns the base tables to clear, dependents first. A single table
// brings along every table that references it.
func Order(table string) ([]string, error) {
	if table != "" {
		k, err := catalog.Lookup(table)
		if err != nil {
			return nil, err
		}
		deps := database.Dependents(k.Table())
		out := make([]string, 0, len(deps)+1)
		for i := len(deps) - 1; i >= 0; i-- {
			out = append(out, deps[i])
		}
		return append(out, k.Table()), nil
	}
	out := make([]string, 0, len(database.Tables))
	for i := len(database.Tables) - 1; i >= 0; i-- {
		out = append(out, database.Tables[i].Base)
	}
	return out, nil
}

// Clear empties the selected tables in one statement. Without Confirm only a
// dry run is allowed.
func (r *Rollback) Clear(ctx context.Context, opts Options) (*Result, error) {
	if !opts.DryRun && !opts.Confirm {
		return nil, common.ErrConfirmationRequired
	}
	tables, err := Order(opts.Table)
	if err != nil {
		return nil, err
	}
	requested := ""
	if opts.Table != "" {
		requested = tables[len(tables)-1]
	}

	lease, err := r.locker.Acquire(ctx, lock.Key(r.store.Prefix()))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	res := &Result{DryRun: opts.DryRun}
	var present []string
	for _, base := range tables {
		tr := TableResult{Table: r.store.Table(base), Dependent: requested != "" && base != requested}
		if !r.store.HasTable(base) {
			tr.Missing = true
			res.Tables = append(res.Tables, tr)
			r.log.Warn().Str("table", tr.Table).Msg("table does not exist, skipping")
			continue
		}
		n, err := r.store.Count(ctx, base)
		if err != nil {
			r.metrics.Error(common.ErrorType(err))
			return res, &common.ConnectivityError{Store: "target", Err: err}
		}
		tr.Rows = n
		res.Tables = append(res.Tables, tr)
		present = append(present, base)
		if opts.DryRun {
			r.log.Info().Str("table", tr.Table).Int64("rows", n).Bool("dependent", tr.Dependent).Msg("[dry-run] would clear")
		}
	}
	if opts.DryRun || len(present) == 0 {
		return res, nil
	}

	if err := r.store.Clear(ctx, present...); err != nil {
		r.metrics.Error(common.ErrorType(err))
		return res, fmt.Errorf("clear %v: %w", present, err)
	}
	for i := range res.Tables {
		tr := &res.Tables[i]
		if tr.Missing {
			continue
		}
		tr.Cleared = true
		r.metrics.Records(tables[i], metrics.OutcomeCleared, int(tr.Rows))
		r.log.Info().Str("table", tr.Table).Int64("rows", tr.Rows).Bool("dependent", tr.Dependent).Msg("table cleared")
	}
	return res, nil
}

// RestoreBackup would reload a dump of the target. Backups are not produced
// by this tool, so it always fails.
func (r *Rollback) RestoreBackup(_ context.Context, path string) error {
	return fmt.Errorf("restore backup %q: %w", path, common.ErrNotImplemented)
}
