// Package report turns a finished migration run into a JSON document and a
// plain-text summary, written to disk and optionally uploaded.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/libreviews/revdal/internal/migration"
	"github.com/libreviews/revdal/internal/validate"
	"github.com/libreviews/revdal/pkg/storage"
	"github.com/rs/zerolog"
)

// HighSkipRatio is the share of skipped records above which a re-run review is recommended.
const HighSkipRatio = 0.05

// Document is the JSON report.
type Document struct {
	RunID           string                `json:"run_id"`
	Timestamp       time.Time             `json:"timestamp"`
	Duration        string                `json:"duration"`
	DurationMS      int64                 `json:"duration_ms"`
	Status          migration.Status      `json:"status"`
	State           migration.State       `json:"state"`
	Transitions     []migration.State     `json:"transitions"`
	DryRun          bool                  `json:"dry_run"`
	ValidateOnly    bool                  `json:"validate_only"`
	Interrupted     bool                  `json:"interrupted"`
	Kinds           []migration.KindStats `json:"kinds"`
	Totals          migration.KindStats   `json:"totals"`
	Errors          []migration.RunError  `json:"errors"`
	Findings        []validate.Finding    `json:"findings"`
	Recommendations []string              `json:"recommendations"`
}

// Build snapshots run into a Document.
func Build(run *migration.Run) Document {
	kinds := make([]migration.KindStats, len(run.Kinds))
	for i, k := range run.Kinds {
		kinds[i] = *k
	}
	d := run.Duration()
	doc := Document{
		RunID:           run.ID,
		Timestamp:       run.StartedAt.UTC(),
		Duration:        d.Round(time.Millisecond).String(),
		DurationMS:      d.Milliseconds(),
		Status:          run.Status(),
		State:           run.State,
		Transitions:     append([]migration.State(nil), run.Transitions...),
		DryRun:          run.DryRun,
		ValidateOnly:    run.ValidateOnly,
		Interrupted:     run.Interrupted,
		Kinds:           kinds,
		Totals:          run.Totals(),
		Errors:          append([]migration.RunError{}, run.Errors...),
		Findings:        append([]validate.Finding{}, run.Findings...),
		Recommendations: Recommendations(run),
	}
	return doc
}

// Recommendations derives follow-up advice from a run.
func Recommendations(run *migration.Run) []string {
	var out []string
	byType := map[string][]string{}
	for _, e := range run.Errors {
		byType[e.Type] = appendUnique(byType[e.Type], e.Kind)
	}

	if _, ok := byType["connectivity"]; ok {
		out = append(out, "A store was unreachable: check connection settings and timeouts, then re-run.")
	}
	if _, ok := byType["locked"]; ok {
		out = append(out, "Another run holds the lock for this target: wait for it to finish or clear a stale lock.")
	}
	if kinds, ok := byType["insert"]; ok {
		out = append(out, fmt.Sprintf("Constraint violations after reconciliation in %s: review the reference rules before re-running.", list(kinds)))
	}
	if kinds, ok := byType["dependent_rows"]; ok {
		out = append(out, fmt.Sprintf("Other tables still reference %s: run a full migration, or roll back the dependent tables first.", list(kinds)))
	}
	if kinds, ok := byType["transform"]; ok {
		out = append(out, fmt.Sprintf("Malformed source records in %s: fix the data or the mapping, then re-run with --table.", list(kinds)))
	}

	totals := run.Totals()
	if totals.Fetched > 0 {
		ratio := float64(totals.Skipped) / float64(totals.Fetched)
		if ratio > HighSkipRatio {
			out = append(out, fmt.Sprintf("Error rate high: %.1f%% of fetched records were skipped. Review the drop log before re-running.", ratio*100))
		}
	}

	var mismatched, warned []string
	for _, f := range run.Findings {
		switch f.Severity {
		case validate.SeverityError:
			mismatched = appendUnique(mismatched, f.Kind)
		case validate.SeverityWarning:
			warned = appendUnique(warned, f.Kind)
		}
	}
	if len(mismatched) > 0 {
		out = append(out, fmt.Sprintf("Validation failed for %s: investigate, then re-check with --validate-only.", list(mismatched)))
	}
	if len(warned) > 0 {
		out = append(out, fmt.Sprintf("Review validation warnings for %s.", list(warned)))
	}

	switch {
	case run.Interrupted:
		out = append(out, "The run was interrupted: re-run to reseed the remaining kinds.")
	case run.DryRun && run.Status() == migration.StatusSucceeded:
		out = append(out, "Dry run is clean: re-run without --dry-run to migrate.")
	}
	if len(out) == 0 {
		out = append(out, "No action needed.")
	}
	return out
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		s = "run"
	}
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func list(kinds []string) string {
	sorted := append([]string(nil), kinds...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// WriteText renders the human-readable summary of doc.
func WriteText(w io.Writer, doc Document) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Migration report %s\n", doc.RunID)
	fmt.Fprintf(&b, "Timestamp: %s\n", doc.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %s\n", doc.Duration)
	fmt.Fprintf(&b, "Status:    %s (state %s)\n", doc.Status, doc.State)
	if doc.DryRun {
		b.WriteString("Mode:      dry run, nothing was written\n")
	}
	if doc.ValidateOnly {
		b.WriteString("Mode:      validate only\n")
	}
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "kind\tsource\tfetched\tmigrated\tskipped\tfixed\tbackfilled\tbatches\t")
	row := func(k migration.KindStats) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			k.Kind, k.SourceCount, k.Fetched, k.Migrated, k.Skipped, k.Fixed, k.Backfilled, k.Batches)
	}
	for _, k := range doc.Kinds {
		row(k)
	}
	row(doc.Totals)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(doc.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range doc.Errors {
			kind := e.Kind
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(&b, "  [%s] %s %s: %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Type, kind, e.Message)
		}
	}
	if len(doc.Findings) > 0 {
		b.WriteString("\nFindings:\n")
		for _, f := range doc.Findings {
			fmt.Fprintf(&b, "  %-7s %-6s %s: %s\n", f.Severity, f.Check, f.Kind, f.Message)
		}
	}
	b.WriteString("\nRecommendations:\n")
	for _, r := range doc.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", r)
	}

	_, err := w.Write(b.Bytes())
	return err
}

// Uploader stores report files remotely.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, size int64) (*storage.UploadResult, error)
}

// Writer writes reports to a directory and uploads them when an Uploader is set.
type Writer struct {
	dir       string
	uploader  Uploader
	keyPrefix string
	log       zerolog.Logger
}

// NewWriter creates a Writer for dir. uploader may be nil.
func NewWriter(dir string, uploader Uploader, keyPrefix string, log zerolog.Logger) *Writer {
	return &Writer{dir: dir, uploader: uploader, keyPrefix: keyPrefix, log: log}
}

// BaseName is the file name, without extension, of the report of run.
func BaseName(run *migration.Run) string {
	return "migration-" + run.StartedAt.UTC().Format("20060102T150405Z")
}

// Report writes <dir>/migration-<timestamp>.json and .txt.
func (w *Writer) Report(ctx context.Context, run *migration.Run) error {
	doc := Build(run)

	jsonBody, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var text bytes.Buffer
	if err := WriteText(&text, doc); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	base := BaseName(run)
	files := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{base + ".json", jsonBody, "application/json"},
		{base + ".txt", text.Bytes(), "text/plain; charset=utf-8"},
	}
	for _, f := range files {
		path := filepath.Join(w.dir, f.name)
		if err := os.WriteFile(path, f.body, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		w.log.Info().Str("path", path).Msg("report written")
	}

	if w.uploader == nil {
		return nil
	}
	for _, f := range files {
		key := storage.GenerateKey(w.keyPrefix, f.name, run.StartedAt)
		res, err := w.uploader.Upload(ctx, key, bytes.NewReader(f.body), f.contentType, int64(len(f.body)))
		if err != nil {
			// the local copy is the source of truth
			w.log.Warn().Err(err).Str("key", key).Msg("report upload failed")
			continue
		}
		w.log.Info().Str("url", res.URL).Msg("report uploaded")
	}
	return nil
}

var _ migration.Reporter = (*Writer)(nil)
