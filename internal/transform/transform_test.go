package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/domain"
	"github.com/libreviews/revdal/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"displayName":       "display_name",
		"thingID":           "thing_id",
		"userMetaID":        "user_meta_id",
		"_revID":            "_rev_id",
		"_revUser":          "_rev_user",
		"_oldRevOf":         "_old_rev_of",
		"_revDeleted":       "_rev_deleted",
		"canonicalSlugName": "canonical_slug_name",
		"HTMLBody":          "html_body",
		"teams_id":          "teams_id",
		"urls":              "urls",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, SnakeCase(in))
		})
	}
}

func revFields(id string) source.Record {
	return source.Record{
		"id":          id,
		"_revID":      "rev-" + id,
		"_revUser":    "u1",
		"_revDate":    "2020-01-01T00:00:00Z",
		"_revTags":    []any{"create"},
		"_oldRevOf":   nil,
		"_revDeleted": false,
	}
}

func TestTeam_BackfillsCreatedOnFromRevisionDate(t *testing.T) {
	rec := revFields("t1")
	rec["name"] = map[string]any{"en": "Readers"}
	rec["createdBy"] = "u2"

	res, err := Team(rec)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), res.Row.CreatedOn)
	assert.Equal(t, "u2", res.Row.CreatedBy)
	assert.Equal(t, []Backfill{{RecordID: "t1", Column: "created_on", From: "_rev_date"}}, res.Backfills)
}

func TestReview_BackfillsCreatorFromRevisionUser(t *testing.T) {
	rec := revFields("r1")
	rec["thingID"] = "th1"
	rec["title"] = map[string]any{"en": "Good"}
	rec["text"] = map[string]any{"en": "Very good"}
	rec["starRating"] = json.Number("4")
	rec["createdOn"] = time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)

	res, err := Review(rec)
	require.NoError(t, err)
	r := res.Row

	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "rev-r1", r.RevID)
	assert.Equal(t, "u1", *r.RevUser)
	assert.Nil(t, r.OldRevOf)
	assert.Equal(t, []string{"create"}, []string(r.RevTags))
	assert.Equal(t, "th1", r.ThingID)
	assert.Equal(t, 4, r.StarRating)
	assert.Equal(t, "u1", r.CreatedBy)
	assert.Nil(t, r.SocialImageID)
	assert.Equal(t, []Backfill{{RecordID: "r1", Column: "created_by", From: "_rev_user"}}, res.Backfills)
}

func TestTransform_MultilingualRoundTrip(t *testing.T) {
	label := map[string]any{"en": "The Hobbit", "de": "Der kleine Hobbit", "fr": ""}
	rec := revFields("th1")
	rec["label"] = label
	rec["createdBy"] = "u1"
	rec["createdOn"] = "2019-01-01T00:00:00Z"

	res, err := Thing(rec)
	require.NoError(t, err)

	data, err := json.Marshal(res.Row.Label)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	// an empty translation is the same as no translation
	assert.Equal(t, map[string]any{"en": "The Hobbit", "de": "Der kleine Hobbit"}, back)
	assert.NotContains(t, res.Row.Label, "fr")
}

func TestTeam_DropsEmptyTranslations(t *testing.T) {
	rec := revFields("t1")
	rec["name"] = map[string]string{"en": "Readers", "de": ""}
	rec["motto"] = map[string]any{"en": ""}
	rec["createdBy"] = "u2"

	res, err := Team(rec)
	require.NoError(t, err)
	assert.Equal(t, domain.Text{"en": "Readers"}, res.Row.Name)
	assert.Empty(t, res.Row.Motto)
}

func TestThing_GroupsMetadata(t *testing.T) {
	rec := revFields("th1")
	rec["createdBy"] = "u1"
	rec["createdOn"] = "2019-01-01T00:00:00Z"
	rec["urls"] = []any{"https://openlibrary.org/works/OL1"}
	rec["description"] = map[string]any{"en": "A novel"}
	rec["authors"] = []any{map[string]any{"en": "Tolkien"}}
	rec["aliases"] = map[string]any{"en": []any{"Hobbit"}}

	res, err := Thing(rec)
	require.NoError(t, err)
	meta := res.Row.Metadata.Data()

	assert.Equal(t, domain.Text{"en": "A novel"}, meta.Description)
	assert.Equal(t, []domain.Text{{"en": "Tolkien"}}, meta.Authors)
	assert.Nil(t, meta.Subtitle)

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "subtitle")
	assert.Equal(t, domain.TextList{"en": {"Hobbit"}}, res.Row.Aliases.Data())
	assert.Equal(t, []string{"https://openlibrary.org/works/OL1"}, []string(res.Row.URLs))
}

func TestUser_CanonicalNameBackfill(t *testing.T) {
	res, err := User(source.Record{"id": "u1", "displayName": "alice", "registrationDate": "2018-05-01T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "ALICE", res.Row.CanonicalName)
	assert.Equal(t, []string{}, []string(res.Row.SuppressedNotices))
	require.Len(t, res.Backfills, 1)
	assert.Equal(t, "canonical_name", res.Backfills[0].Column)

	res, err = User(source.Record{"id": "u2", "displayName": "bob", "canonicalName": "BOB"})
	require.NoError(t, err)
	assert.Empty(t, res.Backfills)
}

func TestTime_LegacyFormats(t *testing.T) {
	want := time.Date(2017, 6, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"native", want.In(time.FixedZone("X", 3600))},
		{"rfc3339", "2017-06-01T12:30:00Z"},
		{"reql", map[string]any{"$reql_type$": "TIME", "epoch_time": float64(want.Unix()), "timezone": "+00:00"}},
		{"reql json number", map[string]any{"$reql_type$": "TIME", "epoch_time": json.Number("1496320200")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := newFields("x", source.Record{"id": "a", "when": tt.in})
			require.NoError(t, err)
			got := f.Time("when")
			require.NoError(t, f.err)
			assert.True(t, got.Present)
			assert.True(t, want.Equal(got.Value))
		})
	}
}

func TestTransform_MalformedInput(t *testing.T) {
	_, err := Team(nil)
	var terr *common.TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.TableTeams, terr.Kind)

	rec := revFields("t1")
	rec["name"] = "not multilingual"
	_, err = Team(rec)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "name", terr.Field)
	assert.Equal(t, "t1", terr.RecordID)

	rec = revFields("t2")
	delete(rec, "_revDate")
	_, err = Team(rec)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "_rev_date", terr.Field)

	_, err = Review(source.Record{"id": "r1", "_revID": "x", "_revDate": "2020-01-01T00:00:00Z", "starRating": 4.5})
	assert.ErrorIs(t, err, common.ErrTransform)
}

func TestJoins(t *testing.T) {
	res, err := TeamMember(source.Record{"id": "j1", "teams_id": "t1", "users_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.TeamMember{TeamID: "t1", UserID: "u1"}, res.Row)

	tf, err := ThingFile(source.Record{"files_id": "f1", "things_id": "th1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ThingFile{ThingID: "th1", FileID: "f1"}, tf.Row)

	_, err = ReviewTeam(source.Record{"reviews_id": "r1"})
	var terr *common.TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "r1/", terr.RecordID)
}

func TestBatch_FailsWholeBatch(t *testing.T) {
	good := source.Record{"id": "u1", "displayName": "A"}
	rows, backfills, err := Batch([]source.Record{good, good}, User)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Len(t, backfills, 2)

	rows, _, err = Batch([]source.Record{good, nil}, User)
	assert.Error(t, err)
	assert.Nil(t, rows)

	rows, _, err = Batch[domain.User](nil, User)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTransform_IsDeterministic(t *testing.T) {
	rec := revFields("t1")
	rec["name"] = map[string]any{"en": "A", "de": "B"}
	rec["createdBy"] = "u2"
	a, err := Team(rec)
	require.NoError(t, err)
	b, err := Team(rec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
