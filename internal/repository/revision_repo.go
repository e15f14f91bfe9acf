package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/libreviews/revdal/internal/common"
	"gorm.io/gorm"
)

// RevisionRepository reads and writes revision chains of one versioned table.
// Rows link forward through _old_rev_of; the row with NULL is the lineage head.
type RevisionRepository[T any] struct {
	db    *gorm.DB
	table string
}

// NewRevisionRepository creates a repository over the given (already prefixed) table.
func NewRevisionRepository[T any](db *gorm.DB, table string) *RevisionRepository[T] {
	return &RevisionRepository[T]{db: db, table: table}
}

// WithTx returns a repository bound to the given transaction
func (r *RevisionRepository[T]) WithTx(tx *gorm.DB) *RevisionRepository[T] {
	return &RevisionRepository[T]{db: tx, table: r.table}
}

// Table returns the table name
func (r *RevisionRepository[T]) Table() string {
	return r.table
}

func (r *RevisionRepository[T]) scope(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// FindByID loads one row regardless of its position in the chain
func (r *RevisionRepository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	var row T
	err := r.scope(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// forward walks from id towards the head. UNION stops on cycles.
func (r *RevisionRepository[T]) forwardCTE() string {
	return fmt.Sprintf(`fwd(id, _old_rev_of) AS (
	SELECT id, _old_rev_of FROM %[1]s WHERE id = ?
	UNION
	SELECT t.id, t._old_rev_of FROM %[1]s t JOIN fwd ON t.id = fwd._old_rev_of
)`, r.table)
}

// HeadID resolves the current row id of the lineage containing id.
func (r *RevisionRepository[T]) HeadID(ctx context.Context, id string) (string, error) {
	var ids []string
	sql := "WITH RECURSIVE " + r.forwardCTE() + " SELECT id FROM fwd WHERE _old_rev_of IS NULL LIMIT 1"
	if err := r.db.WithContext(ctx).Raw(sql, id).Scan(&ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", common.ErrNotFound
	}
	return ids[0], nil
}

// Current returns the head of the lineage containing id, deleted or not.
func (r *RevisionRepository[T]) Current(ctx context.Context, id string) (*T, error) {
	head, err := r.HeadID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, head)
}

// History returns every revision of the lineage containing id, oldest first.
func (r *RevisionRepository[T]) History(ctx context.Context, id string) ([]*T, error) {
	sql := "WITH RECURSIVE " + r.forwardCTE() + fmt.Sprintf(`,
back(id) AS (
	SELECT id FROM fwd WHERE _old_rev_of IS NULL
	UNION
	SELECT t.id FROM %[1]s t JOIN back ON t._old_rev_of = back.id
)
SELECT id FROM back`, r.table)

	var ids []string
	if err := r.db.WithContext(ctx).Raw(sql, id).Scan(&ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, common.ErrNotFound
	}

	var rows []*T
	err := r.scope(ctx).
		Where("id IN ?", ids).
		Order("_rev_date ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListCurrent returns lineage heads ordered by id.
func (r *RevisionRepository[T]) ListCurrent(ctx context.Context, includeDeleted bool, limit, offset int) ([]*T, error) {
	q := r.scope(ctx).Where("_old_rev_of IS NULL")
	if !includeDeleted {
		q = q.Where("_rev_deleted = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []*T
	err := q.Order("id ASC").Find(&rows).Error
	return rows, err
}

// Supersede links prevID to nextID, but only while prevID is still the head.
// It returns the number of rows changed (0 when another writer got there first).
func (r *RevisionRepository[T]) Supersede(ctx context.Context, prevID, nextID string) (int64, error) {
	res := r.scope(ctx).
		Where("id = ? AND _old_rev_of IS NULL", prevID).
		Update("_old_rev_of", nextID)
	return res.RowsAffected, res.Error
}

// Insert writes a new row
func (r *RevisionRepository[T]) Insert(ctx context.Context, row *T) error {
	return r.scope(ctx).Create(row).Error
}

// RelinkLineages turns legacy star-shaped lineages, where every old revision
// points at the head, into chains where each revision points at its immediate
// successor by (_rev_date, id). Running it twice changes nothing.
func (r *RevisionRepository[T]) RelinkLineages(ctx context.Context) (int64, error) {
	sql := fmt.Sprintf(`UPDATE %[1]s SET _old_rev_of = nxt.next_id
FROM (
	SELECT id, LEAD(id) OVER (PARTITION BY _old_rev_of ORDER BY _rev_date, id) AS next_id
	FROM %[1]s
	WHERE _old_rev_of IS NOT NULL
) AS nxt
WHERE %[1]s.id = nxt.id AND nxt.next_id IS NOT NULL AND %[1]s._old_rev_of <> nxt.next_id`, r.table)

	res := r.db.WithContext(ctx).Exec(sql)
	return res.RowsAffected, res.Error
}
