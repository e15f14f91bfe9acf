// Package revision implements append-only revision chains over versioned
// tables. Every edit inserts a new row; the previous head is linked to it in
// the same transaction so that each lineage always has exactly one head.
package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/repository"
	"github.com/libreviews/revdal/internal/schema"
	"github.com/libreviews/revdal/internal/search"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tags stamped on revisions created by the engine itself.
const (
	TagCreate   = "create"
	TagEdit     = "edit"
	TagDelete   = "delete"
	TagUndelete = "undelete"
)

// Model constrains T to versioned domain structs addressed through a pointer.
type Model[T any] interface {
	*T
	domain.Versioned
	search.Document
}

// Draft is an unsaved revision. It becomes durable only through Engine.Save.
type Draft[T any] struct {
	Row *T

	prevID   string
	deletion bool
	saved    bool
}

// PreviousID is the head this draft supersedes, empty for a first revision.
func (d *Draft[T]) PreviousID() string { return d.prevID }

// Engine manages revisions of one versioned kind.
type Engine[T any, PT Model[T]] struct {
	store   *database.Store
	kind    string
	repo    *repository.RevisionRepository[T]
	indexer search.Indexer
	log     zerolog.Logger
	now     func() time.Time
}

// NewEngine creates an engine for kind, whose base table name equals kind.
func NewEngine[T any, PT Model[T]](store *database.Store, kind string, indexer search.Indexer, log zerolog.Logger) *Engine[T, PT] {
	if indexer == nil {
		indexer = search.Noop{}
	}
	return &Engine[T, PT]{
		store:   store,
		kind:    kind,
		repo:    repository.NewRevisionRepository[T](store.DB(), store.Table(kind)),
		indexer: indexer,
		log:     log.With().Str("kind", kind).Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Kind returns the entity kind
func (e *Engine[T, PT]) Kind() string { return e.kind }

// Repository exposes the underlying chain queries.
func (e *Engine[T, PT]) Repository() *repository.RevisionRepository[T] { return e.repo }

// stamp fills the revision fields of a new row whose ID is already set.
// The revision id equals the row id.
func (e *Engine[T, PT]) stamp(rev *domain.Revision, actor string, tags []string) {
	rev.RevID = rev.ID
	rev.RevUser = nil
	if actor != "" {
		a := actor
		rev.RevUser = &a
	}
	rev.RevDate = e.now()
	rev.RevTags = datatypes.JSONSlice[string](append([]string{}, tags...))
	rev.OldRevOf = nil
}

// CreateFirstRevision starts a new lineage. Content fields are left at their zero values.
func (e *Engine[T, PT]) CreateFirstRevision(actor string, tags ...string) *Draft[T] {
	row := new(T)
	rev := PT(row).Rev()
	rev.ID = uuid.NewString()
	rev.RevDeleted = false
	e.stamp(rev, actor, withDefault(tags, TagCreate))
	return &Draft[T]{Row: row}
}

// NewRevision copies the content of current into a draft that will supersede it.
func (e *Engine[T, PT]) NewRevision(current *T, actor string, tags ...string) (*Draft[T], error) {
	if err := e.checkBranchable(current, false); err != nil {
		return nil, err
	}
	return e.branch(current, actor, withDefault(tags, TagEdit))
}

func (e *Engine[T, PT]) checkBranchable(current *T, wantDeleted bool) error {
	if current == nil {
		return &common.InvalidStateError{Reason: "no current revision"}
	}
	rev := PT(current).Rev()
	if rev.OldRevOf != nil {
		return &common.InvalidStateError{ID: rev.ID, Reason: "revision is not current"}
	}
	if rev.RevDeleted && !wantDeleted {
		return &common.InvalidStateError{ID: rev.ID, Reason: "revision is deleted"}
	}
	if !rev.RevDeleted && wantDeleted {
		return &common.InvalidStateError{ID: rev.ID, Reason: "revision is not deleted"}
	}
	return nil
}

func (e *Engine[T, PT]) branch(current *T, actor string, tags []string) (*Draft[T], error) {
	row, err := clone(current)
	if err != nil {
		return nil, err
	}
	prev := PT(current).Rev()
	rev := PT(row).Rev()
	rev.ID = uuid.NewString()
	e.stamp(rev, actor, tags)
	return &Draft[T]{Row: row, prevID: prev.ID}, nil
}

// Save validates the draft and persists it. Superseding drafts link the
// previous head in the same transaction; if the head moved in the meantime
// nothing is written and an InvalidStateError is returned.
func (e *Engine[T, PT]) Save(ctx context.Context, d *Draft[T]) error {
	if d == nil || d.Row == nil {
		return errors.New("save: empty draft")
	}
	if d.saved {
		return &common.InvalidStateError{ID: PT(d.Row).Rev().ID, Reason: "draft already saved"}
	}
	rev := PT(d.Row).Rev()

	// deletion revisions carry content that was valid when it was written
	if !d.deletion {
		if err := schema.Validate(e.kind, d.Row); err != nil {
			return err
		}
	}

	err := e.store.Transaction(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		if d.prevID != "" {
			n, err := repo.Supersede(ctx, d.prevID, rev.ID)
			if err != nil {
				return fmt.Errorf("supersede %s: %w", d.prevID, err)
			}
			if n != 1 {
				return &common.InvalidStateError{ID: d.prevID, Reason: "revision is no longer current"}
			}
		}
		if err := repo.Insert(ctx, d.Row); err != nil {
			return fmt.Errorf("insert %s: %w", rev.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.saved = true

	e.notify(ctx, d.prevID, d.Row)
	return nil
}

// notify updates the search index after commit. Index failures are logged,
// the committed revision stands.
func (e *Engine[T, PT]) notify(ctx context.Context, prevID string, row *T) {
	if prevID != "" {
		if err := e.indexer.DeleteEntity(ctx, e.kind, prevID); err != nil {
			e.log.Warn().Err(err).Str("id", prevID).Msg("failed to remove superseded revision from index")
		}
	}
	rev := PT(row).Rev()
	if !rev.IsLive() {
		return
	}
	if err := e.indexer.IndexEntity(ctx, e.kind, PT(row)); err != nil {
		e.log.Warn().Err(err).Str("id", rev.ID).Msg("failed to index revision")
	}
}

// MarkDeleted saves a new head with the same content flagged as deleted.
func (e *Engine[T, PT]) MarkDeleted(ctx context.Context, current *T, actor string, tags ...string) (*T, error) {
	if err := e.checkBranchable(current, false); err != nil {
		return nil, err
	}
	d, err := e.branch(current, actor, withDefault(tags, TagDelete))
	if err != nil {
		return nil, err
	}
	PT(d.Row).Rev().RevDeleted = true
	d.deletion = true
	if err := e.Save(ctx, d); err != nil {
		return nil, err
	}
	return d.Row, nil
}

// Restore undeletes a lineage by saving a live copy of its deleted head.
func (e *Engine[T, PT]) Restore(ctx context.Context, current *T, actor string, tags ...string) (*T, error) {
	if err := e.checkBranchable(current, true); err != nil {
		return nil, err
	}
	d, err := e.branch(current, actor, withDefault(tags, TagUndelete))
	if err != nil {
		return nil, err
	}
	PT(d.Row).Rev().RevDeleted = false
	if err := e.Save(ctx, d); err != nil {
		return nil, err
	}
	return d.Row, nil
}

// CurrentLive returns the head of the lineage containing id unless it is deleted.
func (e *Engine[T, PT]) CurrentLive(ctx context.Context, id string) (*T, error) {
	row, err := e.repo.Current(ctx, id)
	if err != nil {
		return nil, err
	}
	if PT(row).Rev().RevDeleted {
		return nil, common.ErrNotFound
	}
	return row, nil
}

// CurrentIncludingDeleted returns the head of the lineage containing id.
func (e *Engine[T, PT]) CurrentIncludingDeleted(ctx context.Context, id string) (*T, error) {
	return e.repo.Current(ctx, id)
}

// History returns all revisions of the lineage containing id, oldest first.
func (e *Engine[T, PT]) History(ctx context.Context, id string) ([]*T, error) {
	return e.repo.History(ctx, id)
}

// ListLive returns live heads ordered by id.
func (e *Engine[T, PT]) ListLive(ctx context.Context, limit, offset int) ([]*T, error) {
	return e.repo.ListCurrent(ctx, false, limit, offset)
}

// clone deep-copies a row through its JSON form.
func clone[T any](src *T) (*T, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("copy revision: %w", err)
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("copy revision: %w", err)
	}
	return dst, nil
}

func withDefault(tags []string, def string) []string {
	if len(tags) == 0 {
		return []string{def}
	}
	return tags
}
