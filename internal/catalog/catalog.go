// Package catalog enumerates the entity kinds the migration knows about, in
// dependency order, each bound to its typed transform and reference rules.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/reconcile"
	"github.com/libreviews/revdal/internal/repository"
	"github.com/libreviews/revdal/internal/search"
	"github.com/libreviews/revdal/internal/source"
	"github.com/libreviews/revdal/internal/transform"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Class groups kinds by how they are stored.
type Class int

const (
	// Primary kinds have a plain id and no history.
	Primary Class = iota
	// Versioned kinds carry revision chains.
	Versioned
	// Join kinds are id pairs with a composite key.
	Join
)

func (c Class) String() string {
	switch c {
	case Primary:
		return "primary"
	case Versioned:
		return "versioned"
	case Join:
		return "join"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// insertChunk bounds the rows of one INSERT statement.
const insertChunk = 200

// Env carries what a kind needs to migrate one batch.
type Env struct {
	Store      *database.Store
	Reconciler *reconcile.Reconciler
	DryRun     bool
}

// BatchResult counts what happened to one batch.
type BatchResult struct {
	Migrated  int
	Skipped   int
	Drops     []reconcile.Drop
	Fixes     []reconcile.Fix
	Backfills []transform.Backfill
	// Live holds inserted rows that are current and not deleted.
	Live []search.Document
}

// FieldDiff is one compared field that differs after normalization.
type FieldDiff struct {
	Field  string `json:"field"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// SampleResult compares one source record with its target row.
type SampleResult struct {
	RecordID string
	Found    bool
	Diffs    []FieldDiff
}

// Kind is one entity kind. The set is closed: only this package implements it.
type Kind interface {
	Name() string
	SourceTable() string
	Table() string
	Class() Class
	// MigrateBatch transforms, reconciles and inserts recs in one transaction.
	MigrateBatch(ctx context.Context, env Env, offset int, recs []source.Record) (BatchResult, error)
	// CompareSample looks up the target row of rec and diffs the compared fields.
	CompareSample(ctx context.Context, store *database.Store, rec source.Record) (SampleResult, error)
	// Relink rewrites legacy lineages of versioned kinds into successor chains.
	Relink(ctx context.Context, store *database.Store) (int64, error)

	sealed()
}

type spec[T any] struct {
	name      string
	source    string
	table     string
	class     Class
	transform transform.Func[T]
	id        func(*T) string
	key       func(*T) map[string]any
	refs      []reconcile.Ref[T]
	compare   []string
	live      func(*T) bool
}

func (s *spec[T]) Name() string        { return s.name }
func (s *spec[T]) SourceTable() string { return s.source }
func (s *spec[T]) Table() string       { return s.table }
func (s *spec[T]) Class() Class        { return s.class }
func (s *spec[T]) sealed()             {}

func (s *spec[T]) MigrateBatch(ctx context.Context, env Env, offset int, recs []source.Record) (BatchResult, error) {
	var res BatchResult
	rows, backfills, err := transform.Batch(recs, s.transform)
	if err != nil {
		return res, err
	}
	res.Backfills = backfills

	out, err := reconcile.Reconcile(ctx, env.Reconciler, s.name, rows, s.id, s.refs)
	if err != nil {
		return res, &common.ConnectivityError{Store: "target", Err: err}
	}
	res.Drops = out.Drops
	res.Fixes = out.Fixes
	res.Skipped = len(out.Drops)

	if len(out.Kept) == 0 {
		return res, nil
	}

	if env.DryRun {
		res.Migrated = len(out.Kept)
		if s.class != Join {
			ids := make([]string, len(out.Kept))
			for i := range out.Kept {
				ids[i] = s.id(&out.Kept[i])
			}
			env.Reconciler.Known().Add(s.table, ids...)
		}
	} else {
		inserted, err := s.insert(ctx, env.Store, out.Kept)
		if err != nil {
			return res, &common.InsertError{Kind: s.name, Offset: offset, Size: len(out.Kept), Err: err}
		}
		res.Migrated = int(inserted)
		// duplicate join pairs are ignored by the insert
		res.Skipped += len(out.Kept) - int(inserted)
	}

	if s.live != nil && !env.DryRun {
		for i := range out.Kept {
			if s.live(&out.Kept[i]) {
				if doc, ok := any(&out.Kept[i]).(search.Document); ok {
					res.Live = append(res.Live, doc)
				}
			}
		}
	}
	return res, nil
}

// insert writes rows in one transaction. The transaction ignores ctx
// cancellation so that an interrupt never splits a batch.
func (s *spec[T]) insert(ctx context.Context, store *database.Store, rows []T) (int64, error) {
	var affected int64
	err := store.Transaction(context.WithoutCancel(ctx), func(tx *gorm.DB) error {
		q := tx.Table(store.Table(s.table))
		if s.class == Join {
			q = q.Clauses(clause.OnConflict{DoNothing: true})
		}
		res := q.CreateInBatches(rows, insertChunk)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	return affected, err
}

func (s *spec[T]) CompareSample(ctx context.Context, store *database.Store, rec source.Record) (SampleResult, error) {
	res, err := s.transform(rec)
	if err != nil {
		return SampleResult{RecordID: rec.ID()}, err
	}
	expected := res.Row
	out := SampleResult{RecordID: s.id(&expected)}

	var actual T
	err = store.DB().WithContext(ctx).Table(store.Table(s.table)).Where(s.key(&expected)).Take(&actual).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Found = true

	diffs, err := diffFields(expected, actual, s.compare)
	if err != nil {
		return out, err
	}
	out.Diffs = diffs
	return out, nil
}

func (s *spec[T]) Relink(ctx context.Context, store *database.Store) (int64, error) {
	if s.class != Versioned {
		return 0, nil
	}
	return repository.NewRevisionRepository[T](store.DB(), store.Table(s.table)).RelinkLineages(ctx)
}
