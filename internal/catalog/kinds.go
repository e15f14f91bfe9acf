package catalog

import (
	"fmt"

	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/reconcile"
	"github.com/libreviews/revdal/internal/transform"
)

func required[T any](col, table string, field func(*T) *string) reconcile.Ref[T] {
	return reconcile.Ref[T]{
		Column:   col,
		Table:    table,
		Required: true,
		Get:      func(t *T) string { return *field(t) },
	}
}

func optional[T any](col, table string, field func(*T) **string, fallback func(*T) string) reconcile.Ref[T] {
	return reconcile.Ref[T]{
		Column: col,
		Table:  table,
		Get: func(t *T) string {
			if p := *field(t); p != nil {
				return *p
			}
			return ""
		},
		Set: func(t *T, v string) {
			if v == "" {
				*field(t) = nil
				return
			}
			*field(t) = &v
		},
		Fallback: fallback,
	}
}

func byID(id string) map[string]any { return map[string]any{"id": id} }

var users = &spec[domain.User]{
	name:      domain.TableUsers,
	source:    "users",
	table:     domain.TableUsers,
	class:     Primary,
	transform: transform.User,
	id:        func(u *domain.User) string { return u.ID },
	key:       func(u *domain.User) map[string]any { return byID(u.ID) },
	compare:   []string{"display_name", "canonical_name", "email", "is_trusted", "is_site_moderator", "is_super_user", "registration_date"},
}

var userMetas = &spec[domain.UserMeta]{
	name:      domain.TableUserMetas,
	source:    "user_meta",
	table:     domain.TableUserMetas,
	class:     Versioned,
	transform: transform.UserMeta,
	id:        func(m *domain.UserMeta) string { return m.ID },
	key:       func(m *domain.UserMeta) map[string]any { return byID(m.ID) },
	refs: []reconcile.Ref[domain.UserMeta]{
		optional(domain.ColRevUser, domain.TableUsers, func(m *domain.UserMeta) **string { return &m.RevUser }, nil),
	},
	compare: []string{"bio", "original_language", "_rev_date", "_rev_deleted"},
	live:    func(m *domain.UserMeta) bool { return m.IsLive() },
}

var teams = &spec[domain.Team]{
	name:      domain.TableTeams,
	source:    "teams",
	table:     domain.TableTeams,
	class:     Versioned,
	transform: transform.Team,
	id:        func(t *domain.Team) string { return t.ID },
	key:       func(t *domain.Team) map[string]any { return byID(t.ID) },
	refs: []reconcile.Ref[domain.Team]{
		required(domain.ColCreatedBy, domain.TableUsers, func(t *domain.Team) *string { return &t.CreatedBy }),
		optional(domain.ColRevUser, domain.TableUsers, func(t *domain.Team) **string { return &t.RevUser },
			func(t *domain.Team) string { return t.CreatedBy }),
	},
	compare: []string{"name", "motto", "description", "rules", "created_on", "_rev_date", "_rev_deleted"},
	live:    func(t *domain.Team) bool { return t.IsLive() },
}

var teamMembers = &spec[domain.TeamMember]{
	name:      domain.TableTeamMembers,
	source:    "teams_users_membership",
	table:     domain.TableTeamMembers,
	class:     Join,
	transform: transform.TeamMember,
	id:        func(m *domain.TeamMember) string { return m.TeamID + "/" + m.UserID },
	key: func(m *domain.TeamMember) map[string]any {
		return map[string]any{"team_id": m.TeamID, "user_id": m.UserID}
	},
	refs: []reconcile.Ref[domain.TeamMember]{
		required("team_id", domain.TableTeams, func(m *domain.TeamMember) *string { return &m.TeamID }),
		required("user_id", domain.TableUsers, func(m *domain.TeamMember) *string { return &m.UserID }),
	},
}

var teamModerators = &spec[domain.TeamModerator]{
	name:      domain.TableTeamModerators,
	source:    "teams_users_moderatorship",
	table:     domain.TableTeamModerators,
	class:     Join,
	transform: transform.TeamModerator,
	id:        func(m *domain.TeamModerator) string { return m.TeamID + "/" + m.UserID },
	key: func(m *domain.TeamModerator) map[string]any {
		return map[string]any{"team_id": m.TeamID, "user_id": m.UserID}
	},
	refs: []reconcile.Ref[domain.TeamModerator]{
		required("team_id", domain.TableTeams, func(m *domain.TeamModerator) *string { return &m.TeamID }),
		required("user_id", domain.TableUsers, func(m *domain.TeamModerator) *string { return &m.UserID }),
	},
}

var things = &spec[domain.Thing]{
	name:      domain.TableThings,
	source:    "things",
	table:     domain.TableThings,
	class:     Versioned,
	transform: transform.Thing,
	id:        func(t *domain.Thing) string { return t.ID },
	key:       func(t *domain.Thing) map[string]any { return byID(t.ID) },
	refs: []reconcile.Ref[domain.Thing]{
		required(domain.ColCreatedBy, domain.TableUsers, func(t *domain.Thing) *string { return &t.CreatedBy }),
		optional(domain.ColRevUser, domain.TableUsers, func(t *domain.Thing) **string { return &t.RevUser },
			func(t *domain.Thing) string { return t.CreatedBy }),
	},
	compare: []string{"urls", "label", "aliases", "metadata", "created_on", "_rev_date", "_rev_deleted"},
	live:    func(t *domain.Thing) bool { return t.IsLive() },
}

var files = &spec[domain.File]{
	name:      domain.TableFiles,
	source:    "files",
	table:     domain.TableFiles,
	class:     Versioned,
	transform: transform.File,
	id:        func(f *domain.File) string { return f.ID },
	key:       func(f *domain.File) map[string]any { return byID(f.ID) },
	refs: []reconcile.Ref[domain.File]{
		required("uploaded_by", domain.TableUsers, func(f *domain.File) *string { return &f.UploadedBy }),
		optional(domain.ColRevUser, domain.TableUsers, func(f *domain.File) **string { return &f.RevUser },
			func(f *domain.File) string { return f.UploadedBy }),
	},
	compare: []string{"name", "description", "mime_type", "license", "creator", "source", "completed", "_rev_date"},
	live:    func(f *domain.File) bool { return f.IsLive() },
}

var thingFiles = &spec[domain.ThingFile]{
	name:      domain.TableThingFiles,
	source:    "files_things_media_usage",
	table:     domain.TableThingFiles,
	class:     Join,
	transform: transform.ThingFile,
	id:        func(f *domain.ThingFile) string { return f.ThingID + "/" + f.FileID },
	key: func(f *domain.ThingFile) map[string]any {
		return map[string]any{"thing_id": f.ThingID, "file_id": f.FileID}
	},
	refs: []reconcile.Ref[domain.ThingFile]{
		required("thing_id", domain.TableThings, func(f *domain.ThingFile) *string { return &f.ThingID }),
		required("file_id", domain.TableFiles, func(f *domain.ThingFile) *string { return &f.FileID }),
	},
}

var reviews = &spec[domain.Review]{
	name:      domain.TableReviews,
	source:    "reviews",
	table:     domain.TableReviews,
	class:     Versioned,
	transform: transform.Review,
	id:        func(r *domain.Review) string { return r.ID },
	key:       func(r *domain.Review) map[string]any { return byID(r.ID) },
	refs: []reconcile.Ref[domain.Review]{
		required("thing_id", domain.TableThings, func(r *domain.Review) *string { return &r.ThingID }),
		required(domain.ColCreatedBy, domain.TableUsers, func(r *domain.Review) *string { return &r.CreatedBy }),
		optional("social_image_id", domain.TableFiles, func(r *domain.Review) **string { return &r.SocialImageID }, nil),
		optional(domain.ColRevUser, domain.TableUsers, func(r *domain.Review) **string { return &r.RevUser },
			func(r *domain.Review) string { return r.CreatedBy }),
	},
	compare: []string{"title", "text", "html", "star_rating", "created_on", "original_language", "_rev_date", "_rev_deleted"},
	live:    func(r *domain.Review) bool { return r.IsLive() },
}

var reviewTeams = &spec[domain.ReviewTeam]{
	name:      domain.TableReviewTeams,
	source:    "reviews_teams_team_content",
	table:     domain.TableReviewTeams,
	class:     Join,
	transform: transform.ReviewTeam,
	id:        func(r *domain.ReviewTeam) string { return r.ReviewID + "/" + r.TeamID },
	key: func(r *domain.ReviewTeam) map[string]any {
		return map[string]any{"review_id": r.ReviewID, "team_id": r.TeamID}
	},
	refs: []reconcile.Ref[domain.ReviewTeam]{
		required("review_id", domain.TableReviews, func(r *domain.ReviewTeam) *string { return &r.ReviewID }),
		required("team_id", domain.TableTeams, func(r *domain.ReviewTeam) *string { return &r.TeamID }),
	},
}

var blogPosts = &spec[domain.BlogPost]{
	name:      domain.TableBlogPosts,
	source:    "blog_posts",
	table:     domain.TableBlogPosts,
	class:     Versioned,
	transform: transform.BlogPost,
	id:        func(p *domain.BlogPost) string { return p.ID },
	key:       func(p *domain.BlogPost) map[string]any { return byID(p.ID) },
	refs: []reconcile.Ref[domain.BlogPost]{
		required("team_id", domain.TableTeams, func(p *domain.BlogPost) *string { return &p.TeamID }),
		required(domain.ColCreatedBy, domain.TableUsers, func(p *domain.BlogPost) *string { return &p.CreatedBy }),
		optional(domain.ColRevUser, domain.TableUsers, func(p *domain.BlogPost) **string { return &p.RevUser },
			func(p *domain.BlogPost) string { return p.CreatedBy }),
	},
	compare: []string{"title", "text", "html", "created_on", "original_language", "_rev_date", "_rev_deleted"},
	live:    func(p *domain.BlogPost) bool { return p.IsLive() },
}

var inviteLinks = &spec[domain.InviteLink]{
	name:      domain.TableInviteLinks,
	source:    "invite_links",
	table:     domain.TableInviteLinks,
	class:     Primary,
	transform: transform.InviteLink,
	id:        func(l *domain.InviteLink) string { return l.ID },
	key:       func(l *domain.InviteLink) map[string]any { return byID(l.ID) },
	refs: []reconcile.Ref[domain.InviteLink]{
		required(domain.ColCreatedBy, domain.TableUsers, func(l *domain.InviteLink) *string { return &l.CreatedBy }),
		optional("used_by", domain.TableUsers, func(l *domain.InviteLink) **string { return &l.UsedBy }, nil),
	},
	compare: []string{"created_on", "created_by"},
}

var plan = []Kind{
	users,
	userMetas,
	teams,
	teamMembers,
	teamModerators,
	things,
	files,
	thingFiles,
	reviews,
	reviewTeams,
	blogPosts,
	inviteLinks,
}

// Plan returns every kind in dependency order: owners before owned,
// content before joins.
func Plan() []Kind {
	return append([]Kind(nil), plan...)
}

// Lookup finds a kind by its name, source table or target table.
func Lookup(name string) (Kind, error) {
	for _, k := range plan {
		if k.Name() == name || k.SourceTable() == name || k.Table() == name {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrUnknownKind, name)
}
