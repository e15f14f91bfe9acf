package domain

// Join relations carry no history and no surrogate id; the pair is the identity.

// TeamMember links a user to a team they belong to.
type TeamMember struct {
	TeamID string `gorm:"column:team_id;type:uuid;primaryKey" json:"team_id"`
	UserID string `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
}

// TeamModerator grants a user moderation rights on a team.
type TeamModerator struct {
	TeamID string `gorm:"column:team_id;type:uuid;primaryKey" json:"team_id"`
	UserID string `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
}

// ThingFile records that a file is used as media for a thing.
type ThingFile struct {
	ThingID string `gorm:"column:thing_id;type:uuid;primaryKey" json:"thing_id"`
	FileID  string `gorm:"column:file_id;type:uuid;primaryKey" json:"file_id"`
}

// ReviewTeam tags a review as content of a team.
type ReviewTeam struct {
	ReviewID string `gorm:"column:review_id;type:uuid;primaryKey" json:"review_id"`
	TeamID   string `gorm:"column:team_id;type:uuid;primaryKey" json:"team_id"`
}
