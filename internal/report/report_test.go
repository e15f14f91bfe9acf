package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libreviews/revdal/internal/migration"
	"github.com/libreviews/revdal/internal/validate"
	"github.com/libreviews/revdal/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var started = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func finishedRun() *migration.Run {
	run := migration.NewRun(started, migration.Options{})
	run.FinishedAt = started.Add(90 * time.Second)
	run.State = migration.StateDone
	run.Kinds = []*migration.KindStats{
		{Kind: "users", SourceCount: 100, Fetched: 100, Migrated: 100, Batches: 1, Completed: true},
		{Kind: "team_members", SourceCount: 50, Fetched: 50, Migrated: 48, Skipped: 2, Batches: 1, Completed: true},
	}
	run.Findings = []validate.Finding{
		{Severity: validate.SeverityWarning, Kind: "team_members", Check: validate.CheckCount, Message: "2 records skipped"},
	}
	return run
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*storage.UploadResult, error) {
	b, _ := io.ReadAll(body)
	args := m.Called(key, contentType, int64(len(b)) == size)
	if res, ok := args.Get(0).(*storage.UploadResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestBuild(t *testing.T) {
	doc := Build(finishedRun())

	assert.Equal(t, started, doc.Timestamp)
	assert.Equal(t, int64(90000), doc.DurationMS)
	assert.Equal(t, "1m30s", doc.Duration)
	assert.Equal(t, migration.StatusSucceeded, doc.Status)
	assert.Equal(t, 148, doc.Totals.Migrated)
	assert.Equal(t, 2, doc.Totals.Skipped)
	assert.Len(t, doc.Kinds, 2)
	assert.NotNil(t, doc.Errors)
	assert.Equal(t, []string{"Review validation warnings for team_members."}, doc.Recommendations)
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*migration.Run)
		want   string
	}{
		{
			name: "clean run",
			modify: func(r *migration.Run) {
				r.Findings = nil
			},
			want: "No action needed.",
		},
		{
			name: "high skip rate",
			modify: func(r *migration.Run) {
				r.Kinds[1].Skipped = 20
			},
			want: "Error rate high: 13.3% of fetched records were skipped. Review the drop log before re-running.",
		},
		{
			name: "insert error",
			modify: func(r *migration.Run) {
				r.Errors = []migration.RunError{{Type: "insert", Kind: "users"}}
			},
			want: "Constraint violations after reconciliation in users: review the reference rules before re-running.",
		},
		{
			name: "dependent rows",
			modify: func(r *migration.Run) {
				r.Errors = []migration.RunError{{Type: "dependent_rows", Kind: "users"}}
			},
			want: "Other tables still reference users: run a full migration, or roll back the dependent tables first.",
		},
		{
			name: "connectivity",
			modify: func(r *migration.Run) {
				r.Errors = []migration.RunError{{Type: "connectivity"}}
			},
			want: "A store was unreachable: check connection settings and timeouts, then re-run.",
		},
		{
			name: "validation error",
			modify: func(r *migration.Run) {
				r.Findings = append(r.Findings, validate.Finding{Severity: validate.SeverityError, Kind: "users"})
			},
			want: "Validation failed for users: investigate, then re-check with --validate-only.",
		},
		{
			name: "interrupted",
			modify: func(r *migration.Run) {
				r.Interrupted = true
			},
			want: "The run was interrupted: re-run to reseed the remaining kinds.",
		},
		{
			name: "dry run",
			modify: func(r *migration.Run) {
				r.DryRun = true
				r.Findings = nil
			},
			want: "Dry run is clean: re-run without --dry-run to migrate.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := finishedRun()
			tt.modify(run)
			assert.Contains(t, Recommendations(run), tt.want)
		})
	}
}

func TestWriteText(t *testing.T) {
	run := finishedRun()
	run.Errors = []migration.RunError{{Type: "transform", Kind: "teams", Message: "transform teams t3: field _rev_id: missing revision id", Timestamp: started}}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Build(run)))
	out := buf.String()

	assert.Contains(t, out, "Status:    failed")
	assert.Contains(t, out, "team_members")
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "transform teams: transform teams t3")
	assert.Contains(t, out, "Malformed source records in teams")
}

func TestWriter_Report(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	run := finishedRun()

	w := NewWriter(dir, nil, "", zerolog.Nop())
	require.NoError(t, w.Report(context.Background(), run))

	raw, err := os.ReadFile(filepath.Join(dir, "migration-20240501T120000Z.json"))
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, run.ID, doc.RunID)
	assert.Equal(t, migration.StatusSucceeded, doc.Status)
	require.Len(t, doc.Kinds, 2)
	assert.Equal(t, 48, doc.Kinds[1].Migrated)

	txt, err := os.ReadFile(filepath.Join(dir, "migration-20240501T120000Z.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), run.ID)
}

func TestWriter_Upload(t *testing.T) {
	up := &mockUploader{}
	up.On("Upload", "reports/2024/05/01/migration-20240501T120000Z.json", "application/json", true).
		Return(&storage.UploadResult{URL: "https://bucket/json"}, nil).Once()
	up.On("Upload", "reports/2024/05/01/migration-20240501T120000Z.txt", "text/plain; charset=utf-8", true).
		Return(nil, errors.New("denied")).Once()

	w := NewWriter(t.TempDir(), up, "reports", zerolog.Nop())
	// upload failures leave the local report in place and are not fatal
	require.NoError(t, w.Report(context.Background(), finishedRun()))
	up.AssertExpectations(t)
}

func TestWriter_ReportDirUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := NewWriter(file, nil, "", zerolog.Nop()).Report(context.Background(), finishedRun())
	assert.Error(t, err)
}
