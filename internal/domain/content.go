package domain

import (
	"time"

	"gorm.io/datatypes"
)

// UserMeta holds the versioned, multilingual profile of a user.
type UserMeta struct {
	Revision
	Bio              datatypes.JSONType[RichText] `gorm:"column:bio;not null" json:"bio"`
	OriginalLanguage string                       `gorm:"column:original_language;type:varchar(8)" json:"original_language" validate:"omitempty,lang"`
}

// Team is a group of users that can moderate, tag reviews and blog.
type Team struct {
	Revision
	Name              Text                         `gorm:"column:name" json:"name" validate:"mlrequired,mlmax=100"`
	Motto             Text                         `gorm:"column:motto" json:"motto,omitempty" validate:"mlmax=200"`
	Description       datatypes.JSONType[RichText] `gorm:"column:description;not null" json:"description"`
	Rules             datatypes.JSONType[RichText] `gorm:"column:rules;not null" json:"rules"`
	ModApprovalToJoin bool                         `gorm:"column:mod_approval_to_join;not null" json:"mod_approval_to_join"`
	OnlyModsCanBlog   bool                         `gorm:"column:only_mods_can_blog;not null" json:"only_mods_can_blog"`
	CreatedBy         string                       `gorm:"column:created_by;type:uuid;not null" json:"created_by" validate:"required"`
	CreatedOn         time.Time                    `gorm:"column:created_on;not null" json:"created_on"`
	CanonicalSlugName *string                      `gorm:"column:canonical_slug_name;type:varchar(128)" json:"canonical_slug_name,omitempty"`
	OriginalLanguage  string                       `gorm:"column:original_language;type:varchar(8)" json:"original_language" validate:"omitempty,lang"`
	ReviewOffset      int                          `gorm:"column:review_offset;not null" json:"review_offset" validate:"min=0"`
}

// ThingMetadata groups descriptive fields of a thing into one structured column.
type ThingMetadata struct {
	Description Text   `json:"description,omitempty"`
	Subtitle    Text   `json:"subtitle,omitempty"`
	Authors     []Text `json:"authors,omitempty"`
}

// IsEmpty reports whether no grouped field is present.
func (m ThingMetadata) IsEmpty() bool {
	return len(m.Description) == 0 && len(m.Subtitle) == 0 && len(m.Authors) == 0
}

// Thing is the subject of a review: a book, a place, a website.
type Thing struct {
	Revision
	URLs              datatypes.JSONSlice[string]       `gorm:"column:urls;not null" json:"urls" validate:"dive,url"`
	Label             Text                              `gorm:"column:label" json:"label,omitempty" validate:"mlmax=256"`
	Aliases           datatypes.JSONType[TextList]      `gorm:"column:aliases;not null" json:"aliases"`
	Metadata          datatypes.JSONType[ThingMetadata] `gorm:"column:metadata;not null" json:"metadata"`
	OriginalLanguage  string                            `gorm:"column:original_language;type:varchar(8)" json:"original_language" validate:"omitempty,lang"`
	CanonicalSlugName *string                           `gorm:"column:canonical_slug_name;type:varchar(256)" json:"canonical_slug_name,omitempty"`
	CreatedOn         time.Time                         `gorm:"column:created_on;not null" json:"created_on"`
	CreatedBy         string                            `gorm:"column:created_by;type:uuid;not null" json:"created_by" validate:"required"`
}

// File is an uploaded media file and its licensing information.
type File struct {
	Revision
	Name        string    `gorm:"column:name;type:varchar(512)" json:"name" validate:"required,max=512"`
	Description Text      `gorm:"column:description" json:"description,omitempty" validate:"mlmax=1000"`
	UploadedBy  string    `gorm:"column:uploaded_by;type:uuid;not null" json:"uploaded_by" validate:"required"`
	UploadedOn  time.Time `gorm:"column:uploaded_on;not null" json:"uploaded_on"`
	MimeType    string    `gorm:"column:mime_type;type:varchar(128)" json:"mime_type" validate:"omitempty,max=128"`
	License     string    `gorm:"column:license;type:varchar(16)" json:"license" validate:"omitempty,license"`
	Creator     Text      `gorm:"column:creator" json:"creator,omitempty" validate:"mlmax=256"`
	Source      Text      `gorm:"column:source" json:"source,omitempty" validate:"mlmax=512"`
	Completed   bool      `gorm:"column:completed;not null" json:"completed"`
}

// Review is one user's rated opinion of a thing.
type Review struct {
	Revision
	ThingID          string    `gorm:"column:thing_id;type:uuid;not null" json:"thing_id" validate:"required"`
	Title            Text      `gorm:"column:title" json:"title" validate:"mlrequired,mlmax=255"`
	Text             Text      `gorm:"column:text" json:"text" validate:"mlrequired"`
	HTML             Text      `gorm:"column:html" json:"html"`
	StarRating       int       `gorm:"column:star_rating;not null" json:"star_rating" validate:"min=1,max=5"`
	CreatedOn        time.Time `gorm:"column:created_on;not null" json:"created_on"`
	CreatedBy        string    `gorm:"column:created_by;type:uuid;not null" json:"created_by" validate:"required"`
	OriginalLanguage string    `gorm:"column:original_language;type:varchar(8)" json:"original_language" validate:"omitempty,lang"`
	SocialImageID    *string   `gorm:"column:social_image_id;type:uuid" json:"social_image_id,omitempty"`
}

// BlogPost is a team announcement.
type BlogPost struct {
	Revision
	TeamID           string    `gorm:"column:team_id;type:uuid;not null" json:"team_id" validate:"required"`
	Title            Text      `gorm:"column:title" json:"title" validate:"mlrequired,mlmax=100"`
	Text             Text      `gorm:"column:text" json:"text" validate:"mlrequired"`
	HTML             Text      `gorm:"column:html" json:"html"`
	CreatedOn        time.Time `gorm:"column:created_on;not null" json:"created_on"`
	CreatedBy        string    `gorm:"column:created_by;type:uuid;not null" json:"created_by" validate:"required"`
	OriginalLanguage string    `gorm:"column:original_language;type:varchar(8)" json:"original_language" validate:"omitempty,lang"`
}
