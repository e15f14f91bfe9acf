package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is an account. Accounts are not versioned and are never deleted while
// revisions reference them.
type User struct {
	ID                    string                      `gorm:"column:id;type:uuid;primaryKey" json:"id" validate:"required"`
	DisplayName           string                      `gorm:"column:display_name;type:varchar(128);not null" json:"display_name" validate:"required,max=128"`
	CanonicalName         string                      `gorm:"column:canonical_name;type:varchar(128);not null" json:"canonical_name" validate:"required,max=128"`
	Email                 *string                     `gorm:"column:email;type:varchar(128)" json:"email,omitempty" validate:"omitempty,email,max=128"`
	Password              string                      `gorm:"column:password;type:varchar(128)" json:"-" validate:"omitempty,bcrypt"`
	UserMetaID            *string                     `gorm:"column:user_meta_id;type:uuid" json:"user_meta_id,omitempty"`
	IsTrusted             bool                        `gorm:"column:is_trusted;not null" json:"is_trusted"`
	IsSiteModerator       bool                        `gorm:"column:is_site_moderator;not null" json:"is_site_moderator"`
	IsSuperUser           bool                        `gorm:"column:is_super_user;not null" json:"is_super_user"`
	ShowErrorDetails      bool                        `gorm:"column:show_error_details;not null" json:"show_error_details"`
	PrefersRichTextEditor bool                        `gorm:"column:prefers_rich_text_editor;not null" json:"prefers_rich_text_editor"`
	RegistrationDate      time.Time                   `gorm:"column:registration_date;not null" json:"registration_date"`
	SuppressedNotices     datatypes.JSONSlice[string] `gorm:"column:suppressed_notices;not null" json:"suppressed_notices"`
	InviteLinkCount       int                         `gorm:"column:invite_link_count;not null" json:"invite_link_count" validate:"min=0"`
}

// InviteLink grants registration to whoever redeems it.
type InviteLink struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id" validate:"required"`
	CreatedOn time.Time `gorm:"column:created_on;not null" json:"created_on"`
	CreatedBy string    `gorm:"column:created_by;type:uuid;not null" json:"created_by" validate:"required"`
	UsedBy    *string   `gorm:"column:used_by;type:uuid" json:"used_by,omitempty"`
}
