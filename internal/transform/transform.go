// Package transform maps raw source records onto typed target rows. Every
// function here is pure: no I/O, and the same record always yields the same row.
package transform

import (
	"strings"
	"time"

	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/source"
	"gorm.io/datatypes"
)

// Backfill records a required column derived from a fallback field.
type Backfill struct {
	RecordID string `json:"record_id"`
	Column   string `json:"column"`
	From     string `json:"from"`
}

// Result is a transformed row plus the backfills applied to it.
type Result[T any] struct {
	Row       T
	Backfills []Backfill
}

// Func transforms one source record of a kind.
type Func[T any] func(source.Record) (Result[T], error)

// Batch transforms recs in order. A malformed record fails the whole batch.
func Batch[T any](recs []source.Record, fn Func[T]) ([]T, []Backfill, error) {
	rows := make([]T, 0, len(recs))
	var backfills []Backfill
	for _, rec := range recs {
		res, err := fn(rec)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, res.Row)
		backfills = append(backfills, res.Backfills...)
	}
	return rows, backfills, nil
}

type builder struct {
	*fields
	backfills []Backfill
}

func newBuilder(kind string, rec source.Record) (*builder, error) {
	f, err := newFields(kind, rec)
	if err != nil {
		return nil, err
	}
	return &builder{fields: f}, nil
}

func (b *builder) backfill(col, from string) {
	b.backfills = append(b.backfills, Backfill{RecordID: b.id, Column: col, From: from})
}

// revision reads the six revision fields. _rev_id and _rev_date are mandatory.
func (b *builder) revision() domain.Revision {
	rev := domain.Revision{ID: b.requireID()}
	revID := b.String(domain.ColRevID)
	if !revID.Present && b.err == nil {
		b.fail(domain.ColRevID, "missing revision id")
	}
	revDate := b.Time(domain.ColRevDate)
	if !revDate.Present && b.err == nil {
		b.fail(domain.ColRevDate, "missing revision date")
	}
	rev.RevID = revID.Value
	rev.RevDate = revDate.Value
	rev.RevUser = b.String(domain.ColRevUser).Ptr()
	rev.RevTags = datatypes.JSONSlice[string](b.Strings(domain.ColRevTags).Or([]string{}))
	rev.OldRevOf = b.String(domain.ColOldRevOf).Ptr()
	rev.RevDeleted = b.Bool(domain.ColRevDeleted).Or(false)
	return rev
}

// createdOn falls back to the revision date.
func (b *builder) createdOn(col string, rev domain.Revision) time.Time {
	if t := b.Time(col); t.Present {
		return t.Value
	}
	b.backfill(col, domain.ColRevDate)
	return rev.RevDate
}

// createdBy falls back to the revision author.
func (b *builder) createdBy(col string, rev domain.Revision) string {
	if s := b.String(col); s.Present && s.Value != "" {
		return s.Value
	}
	if rev.RevUser != nil && *rev.RevUser != "" {
		b.backfill(col, domain.ColRevUser)
		return *rev.RevUser
	}
	return ""
}

func finish[T any](b *builder, row T) (Result[T], error) {
	if b.err != nil {
		var zero Result[T]
		return zero, b.err
	}
	return Result[T]{Row: row, Backfills: b.backfills}, nil
}

func jsonRich(b *builder, col string) datatypes.JSONType[domain.RichText] {
	return datatypes.NewJSONType(b.RichText(col).Or(domain.RichText{}))
}

// User maps a users record. A missing canonical name is derived from the display name.
func User(rec source.Record) (Result[domain.User], error) {
	b, err := newBuilder(domain.TableUsers, rec)
	if err != nil {
		return Result[domain.User]{}, err
	}
	u := domain.User{
		ID:                    b.requireID(),
		DisplayName:           b.String("display_name").Value,
		Email:                 b.String("email").Ptr(),
		Password:              b.String("password").Value,
		UserMetaID:            b.String("user_meta_id").Ptr(),
		IsTrusted:             b.Bool("is_trusted").Value,
		IsSiteModerator:       b.Bool("is_site_moderator").Value,
		IsSuperUser:           b.Bool("is_super_user").Value,
		ShowErrorDetails:      b.Bool("show_error_details").Value,
		PrefersRichTextEditor: b.Bool("prefers_rich_text_editor").Value,
		RegistrationDate:      b.Time("registration_date").Value,
		SuppressedNotices:     b.Strings("suppressed_notices").Or([]string{}),
		InviteLinkCount:       b.Int("invite_link_count").Value,
	}
	if cn := b.String("canonical_name"); cn.Present && cn.Value != "" {
		u.CanonicalName = cn.Value
	} else {
		u.CanonicalName = strings.ToUpper(u.DisplayName)
		b.backfill("canonical_name", "display_name")
	}
	return finish(b, u)
}

// UserMeta maps a user_meta record.
func UserMeta(rec source.Record) (Result[domain.UserMeta], error) {
	b, err := newBuilder(domain.TableUserMetas, rec)
	if err != nil {
		return Result[domain.UserMeta]{}, err
	}
	m := domain.UserMeta{
		Revision:         b.revision(),
		Bio:              jsonRich(b, "bio"),
		OriginalLanguage: b.String("original_language").Value,
	}
	return finish(b, m)
}

// Team maps a teams record.
func Team(rec source.Record) (Result[domain.Team], error) {
	b, err := newBuilder(domain.TableTeams, rec)
	if err != nil {
		return Result[domain.Team]{}, err
	}
	rev := b.revision()
	t := domain.Team{
		Revision:          rev,
		Name:              b.Text("name").Value,
		Motto:             b.Text("motto").Value,
		Description:       jsonRich(b, "description"),
		Rules:             jsonRich(b, "rules"),
		ModApprovalToJoin: b.Bool("mod_approval_to_join").Value,
		OnlyModsCanBlog:   b.Bool("only_mods_can_blog").Value,
		CreatedBy:         b.createdBy("created_by", rev),
		CreatedOn:         b.createdOn("created_on", rev),
		CanonicalSlugName: b.String("canonical_slug_name").Ptr(),
		OriginalLanguage:  b.String("original_language").Value,
		ReviewOffset:      b.Int("review_offset").Value,
	}
	return finish(b, t)
}

// Thing maps a things record, grouping description, subtitle and authors
// into one metadata value.
func Thing(rec source.Record) (Result[domain.Thing], error) {
	b, err := newBuilder(domain.TableThings, rec)
	if err != nil {
		return Result[domain.Thing]{}, err
	}
	rev := b.revision()
	t := domain.Thing{
		Revision:          rev,
		URLs:              b.Strings("urls").Or([]string{}),
		Label:             b.Text("label").Value,
		Aliases:           datatypes.NewJSONType(b.TextList("aliases").Or(domain.TextList{})),
		Metadata:          datatypes.NewJSONType(metadata(b)),
		OriginalLanguage:  b.String("original_language").Value,
		CanonicalSlugName: b.String("canonical_slug_name").Ptr(),
		CreatedOn:         b.createdOn("created_on", rev),
		CreatedBy:         b.createdBy("created_by", rev),
	}
	return finish(b, t)
}

func metadata(b *builder) domain.ThingMetadata {
	return domain.ThingMetadata{
		Description: b.Text("description").Value,
		Subtitle:    b.Text("subtitle").Value,
		Authors:     b.Texts("authors").Value,
	}
}

// File maps a files record.
func File(rec source.Record) (Result[domain.File], error) {
	b, err := newBuilder(domain.TableFiles, rec)
	if err != nil {
		return Result[domain.File]{}, err
	}
	rev := b.revision()
	f := domain.File{
		Revision:    rev,
		Name:        b.String("name").Value,
		Description: b.Text("description").Value,
		UploadedBy:  b.createdBy("uploaded_by", rev),
		UploadedOn:  b.createdOn("uploaded_on", rev),
		MimeType:    b.String("mime_type").Value,
		License:     b.String("license").Value,
		Creator:     b.Text("creator").Value,
		Source:      b.Text("source").Value,
		Completed:   b.Bool("completed").Value,
	}
	return finish(b, f)
}

// Review maps a reviews record.
func Review(rec source.Record) (Result[domain.Review], error) {
	b, err := newBuilder(domain.TableReviews, rec)
	if err != nil {
		return Result[domain.Review]{}, err
	}
	rev := b.revision()
	r := domain.Review{
		Revision:         rev,
		ThingID:          b.String("thing_id").Value,
		Title:            b.Text("title").Value,
		Text:             b.Text("text").Value,
		HTML:             b.Text("html").Value,
		StarRating:       b.Int("star_rating").Value,
		CreatedOn:        b.createdOn("created_on", rev),
		CreatedBy:        b.createdBy("created_by", rev),
		OriginalLanguage: b.String("original_language").Value,
		SocialImageID:    b.String("social_image_id").Ptr(),
	}
	return finish(b, r)
}

// BlogPost maps a blog_posts record.
func BlogPost(rec source.Record) (Result[domain.BlogPost], error) {
	b, err := newBuilder(domain.TableBlogPosts, rec)
	if err != nil {
		return Result[domain.BlogPost]{}, err
	}
	rev := b.revision()
	p := domain.BlogPost{
		Revision:         rev,
		TeamID:           b.String("team_id").Value,
		Title:            b.Text("title").Value,
		Text:             b.Text("text").Value,
		HTML:             b.Text("html").Value,
		CreatedOn:        b.createdOn("created_on", rev),
		CreatedBy:        b.createdBy("created_by", rev),
		OriginalLanguage: b.String("original_language").Value,
	}
	return finish(b, p)
}

// InviteLink maps an invite_links record.
func InviteLink(rec source.Record) (Result[domain.InviteLink], error) {
	b, err := newBuilder(domain.TableInviteLinks, rec)
	if err != nil {
		return Result[domain.InviteLink]{}, err
	}
	l := domain.InviteLink{
		ID:        b.requireID(),
		CreatedOn: b.Time("created_on").Value,
		CreatedBy: b.String("created_by").Value,
		UsedBy:    b.String("used_by").Ptr(),
	}
	return finish(b, l)
}

// pair reads both sides of a join record; both are mandatory.
func pair(b *builder, left, right string) (string, string) {
	l := b.String(left)
	r := b.String(right)
	if b.id == "" {
		b.id = l.Value + "/" + r.Value
	}
	if b.err == nil && (l.Value == "" || r.Value == "") {
		b.fail(left+","+right, "join record needs both ids")
	}
	return l.Value, r.Value
}

// TeamMember maps a teams_users_membership record.
func TeamMember(rec source.Record) (Result[domain.TeamMember], error) {
	b, err := newBuilder(domain.TableTeamMembers, rec)
	if err != nil {
		return Result[domain.TeamMember]{}, err
	}
	team, user := pair(b, "teams_id", "users_id")
	return finish(b, domain.TeamMember{TeamID: team, UserID: user})
}

// TeamModerator maps a teams_users_moderatorship record.
func TeamModerator(rec source.Record) (Result[domain.TeamModerator], error) {
	b, err := newBuilder(domain.TableTeamModerators, rec)
	if err != nil {
		return Result[domain.TeamModerator]{}, err
	}
	team, user := pair(b, "teams_id", "users_id")
	return finish(b, domain.TeamModerator{TeamID: team, UserID: user})
}

// ThingFile maps a files_things_media_usage record.
func ThingFile(rec source.Record) (Result[domain.ThingFile], error) {
	b, err := newBuilder(domain.TableThingFiles, rec)
	if err != nil {
		return Result[domain.ThingFile]{}, err
	}
	file, thing := pair(b, "files_id", "things_id")
	return finish(b, domain.ThingFile{ThingID: thing, FileID: file})
}

// ReviewTeam maps a reviews_teams_team_content record.
func ReviewTeam(rec source.Record) (Result[domain.ReviewTeam], error) {
	b, err := newBuilder(domain.TableReviewTeams, rec)
	if err != nil {
		return Result[domain.ReviewTeam]{}, err
	}
	review, team := pair(b, "reviews_id", "teams_id")
	return finish(b, domain.ReviewTeam{ReviewID: review, TeamID: team})
}
