package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Revision is the metadata every versioned row carries. A lineage is the chain
// of rows linked through OldRevOf; OldRevOf points at the row that superseded
// this one and is NULL only on the lineage's current row.
type Revision struct {
	ID         string                      `gorm:"column:id;type:uuid;primaryKey" json:"id" validate:"required"`
	RevID      string                      `gorm:"column:_rev_id;type:uuid;not null" json:"_rev_id" validate:"required"`
	RevUser    *string                     `gorm:"column:_rev_user;type:uuid" json:"_rev_user,omitempty"`
	RevDate    time.Time                   `gorm:"column:_rev_date;not null" json:"_rev_date"`
	RevTags    datatypes.JSONSlice[string] `gorm:"column:_rev_tags;not null" json:"_rev_tags"`
	OldRevOf   *string                     `gorm:"column:_old_rev_of;type:uuid" json:"_old_rev_of,omitempty"`
	RevDeleted bool                        `gorm:"column:_rev_deleted;not null" json:"_rev_deleted"`
}

// Versioned is implemented by every model embedding Revision.
type Versioned interface {
	Rev() *Revision
}

// Rev returns the revision metadata.
func (r *Revision) Rev() *Revision { return r }

// DocumentID identifies the row in external indexes.
func (r *Revision) DocumentID() string { return r.ID }

// IsCurrent reports whether no revision superseded this one.
func (r *Revision) IsCurrent() bool { return r.OldRevOf == nil }

// IsLive reports whether the row is current and not soft-deleted.
func (r *Revision) IsLive() bool { return r.IsCurrent() && !r.RevDeleted }

// HasTag reports whether the revision was tagged with tag.
func (r *Revision) HasTag(tag string) bool {
	for _, t := range r.RevTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Revision column names shared by every versioned table.
const (
	ColID         = "id"
	ColRevID      = "_rev_id"
	ColRevUser    = "_rev_user"
	ColRevDate    = "_rev_date"
	ColRevTags    = "_rev_tags"
	ColOldRevOf   = "_old_rev_of"
	ColRevDeleted = "_rev_deleted"
)
