package domain

// Base table names in the relational store. The store adapter may prefix them.
const (
	TableUsers          = "users"
	TableUserMetas      = "user_metas"
	TableTeams          = "teams"
	TableTeamMembers    = "team_members"
	TableTeamModerators = "team_moderators"
	TableThings         = "things"
	TableFiles          = "files"
	TableThingFiles     = "thing_files"
	TableReviews        = "reviews"
	TableReviewTeams    = "review_teams"
	TableBlogPosts      = "blog_posts"
	TableInviteLinks    = "invite_links"
)

// Licenses accepted for uploaded files.
var Licenses = []string{"cc-0", "cc-by", "cc-by-sa", "fair-use"}

// Languages supported for multilingual content.
var Languages = []string{
	"ar", "bn", "ca", "de", "en", "eo", "es", "fi", "fr", "hu", "it", "ja",
	"lt", "mk", "nl", "pt", "pt-PT", "ru", "sl", "sv", "tr", "uk", "zh", "zh-Hant",
}

// IsLanguage reports whether lang is a supported language code.
func IsLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// ColCreatedBy is the creator column shared by content tables.
const ColCreatedBy = "created_by"
