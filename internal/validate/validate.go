// Package validate cross-checks a migrated target against its source:
// record counts, sampled field equivalence and the schema contract.
package validate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/libreviews/revdal/internal/catalog"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/source"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Checks
const (
	CheckCount  = "count"
	CheckSample = "sample"
	CheckSchema = "schema"
)

// Finding is one validation result worth reporting.
type Finding struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind,omitempty"`
	Check    string   `json:"check"`
	Message  string   `json:"message"`
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Options tunes the checks.
type Options struct {
	// SampleSize is the number of source records compared per kind. Zero disables sampling.
	SampleSize int
	// JoinWarnRatio is the share of a join kind's source count that may go
	// missing without explanation before the difference becomes an error.
	JoinWarnRatio float64
	// Timeout bounds the store calls made for one kind. Zero means no bound.
	Timeout time.Duration
}

// DefaultOptions
var DefaultOptions = Options{SampleSize: 20, JoinWarnRatio: 0.05}

// Validator runs the checks against one source and one target.
type Validator struct {
	source source.Store
	target *database.Store
	opts   Options
	log    zerolog.Logger
}

// New creates a Validator.
func New(src source.Store, target *database.Store, opts Options, log zerolog.Logger) *Validator {
	return &Validator{source: src, target: target, opts: opts, log: log}
}

// Validate runs the schema, count and sample checks for kinds. explained maps
// a kind name to the number of records intentionally skipped during migration.
// The returned error is set only when a store could not be queried.
func (v *Validator) Validate(ctx context.Context, kinds []catalog.Kind, explained map[string]int) ([]Finding, error) {
	findings, err := v.CheckSchema(ctx, kinds)
	if err != nil {
		return findings, err
	}
	counts, err := v.CheckCounts(ctx, kinds, explained)
	findings = append(findings, counts...)
	if err != nil {
		return findings, err
	}
	samples, err := v.CheckSamples(ctx, kinds)
	findings = append(findings, samples...)
	return findings, err
}

// CheckCounts compares source and target record counts per kind.
func (v *Validator) CheckCounts(ctx context.Context, kinds []catalog.Kind, explained map[string]int) ([]Finding, error) {
	var findings []Finding
	for _, k := range kinds {
		var src, dst int64
		kctx, cancel := common.WithTimeout(ctx, v.opts.Timeout)
		g, gctx := errgroup.WithContext(kctx)
		g.Go(func() error {
			n, err := v.source.Count(gctx, k.SourceTable())
			if err != nil {
				return sourceErr(err)
			}
			src = n
			return nil
		})
		g.Go(func() error {
			n, err := v.target.Count(gctx, k.Table())
			if err != nil {
				return &common.ConnectivityError{Store: "target", Err: err}
			}
			dst = n
			return nil
		})
		err := g.Wait()
		cancel()
		if err != nil {
			return findings, err
		}

		if f, ok := v.compareCounts(k, src, dst, int64(explained[k.Name()])); ok {
			findings = append(findings, f)
		}
		v.log.Debug().Str("kind", k.Name()).Int64("source", src).Int64("target", dst).Msg("counts compared")
	}
	return findings, nil
}

func (v *Validator) compareCounts(k catalog.Kind, src, dst, explained int64) (Finding, bool) {
	diff := src - dst
	if diff == 0 {
		return Finding{}, false
	}
	f := Finding{Kind: k.Name(), Check: CheckCount, Severity: SeverityWarning}
	unexplained := diff - explained
	if unexplained == 0 {
		f.Message = fmt.Sprintf("source %d, target %d: %d records skipped by reconciliation", src, dst, explained)
		return f, true
	}

	abs := unexplained
	if abs < 0 {
		abs = -abs
	}
	f.Message = fmt.Sprintf("source %d, target %d, skipped %d: %d records unaccounted for", src, dst, explained, unexplained)
	if k.Class() == catalog.Join {
		if float64(abs) > v.opts.JoinWarnRatio*float64(src) {
			f.Severity = SeverityError
		}
		return f, true
	}
	// primary and versioned kinds tolerate 1% or one record, whichever is larger
	tolerance := int64(math.Max(math.Floor(float64(src)/100), 1))
	if abs > tolerance {
		f.Severity = SeverityError
	}
	return f, true
}

// CheckSamples draws random source records and compares them with their target rows.
func (v *Validator) CheckSamples(ctx context.Context, kinds []catalog.Kind) ([]Finding, error) {
	if v.opts.SampleSize <= 0 {
		return nil, nil
	}
	var findings []Finding
	for _, k := range kinds {
		kf, err := v.sampleKind(ctx, k)
		findings = append(findings, kf...)
		if err != nil {
			return findings, err
		}
	}
	return findings, nil
}

func (v *Validator) sampleKind(ctx context.Context, k catalog.Kind) ([]Finding, error) {
	ctx, cancel := common.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	recs, err := v.source.Sample(ctx, k.SourceTable(), v.opts.SampleSize)
	if err != nil {
		return nil, sourceErr(err)
	}
	var findings []Finding
	for _, rec := range recs {
		res, err := k.CompareSample(ctx, v.target, rec)
		switch {
		case errors.Is(err, common.ErrTransform):
			findings = append(findings, Finding{Severity: SeverityError, Kind: k.Name(), Check: CheckSample, Message: err.Error()})
			continue
		case err != nil:
			return findings, &common.ConnectivityError{Store: "target", Err: err}
		}
		if !res.Found {
			findings = append(findings, Finding{
				Severity: SeverityWarning, Kind: k.Name(), Check: CheckSample,
				Message: fmt.Sprintf("record %s not found in target", res.RecordID),
			})
			continue
		}
		if len(res.Diffs) > 0 {
			fields := make([]string, len(res.Diffs))
			for i, d := range res.Diffs {
				fields[i] = d.Field
			}
			findings = append(findings, Finding{
				Severity: SeverityError, Kind: k.Name(), Check: CheckSample,
				Message: fmt.Sprintf("record %s differs in %s", res.RecordID, strings.Join(fields, ", ")),
			})
		}
	}
	v.log.Debug().Str("kind", k.Name()).Int("sampled", len(recs)).Msg("samples compared")
	return findings, nil
}

// CheckSchema confirms that the tables, current-revision indexes and
// foreign keys of kinds exist. Foreign keys are checked on Postgres only.
func (v *Validator) CheckSchema(ctx context.Context, kinds []catalog.Kind) ([]Finding, error) {
	var findings []Finding
	missing := func(kind, format string, args ...any) {
		findings = append(findings, Finding{Severity: SeverityError, Kind: kind, Check: CheckSchema, Message: fmt.Sprintf(format, args...)})
	}

	m := v.target.DB().WithContext(ctx).Migrator()
	for _, k := range kinds {
		table := v.target.Table(k.Table())
		if !m.HasTable(table) {
			missing(k.Name(), "table %s is missing", table)
			continue
		}
		if k.Class() == catalog.Versioned {
			if idx := v.target.CurrentIndexName(k.Table()); !m.HasIndex(table, idx) {
				missing(k.Name(), "index %s is missing", idx)
			}
		}
		if !v.target.IsPostgres() {
			continue
		}
		spec, ok := database.LookupTable(k.Table())
		if !ok || len(spec.ForeignKeys) == 0 {
			continue
		}
		qctx, cancel := common.WithTimeout(ctx, v.opts.Timeout)
		rows, err := v.target.Query(qctx,
			"SELECT conname FROM pg_constraint WHERE contype = 'f' AND conrelid = to_regclass(?)", table)
		cancel()
		if err != nil {
			return findings, &common.ConnectivityError{Store: "target", Err: err}
		}
		have := make(map[string]bool, len(rows))
		for _, r := range rows {
			if name, ok := r["conname"].(string); ok {
				have[name] = true
			}
		}
		for _, fk := range spec.ForeignKeys {
			if name := v.target.ForeignKeyName(k.Table(), fk.Column); !have[name] {
				missing(k.Name(), "foreign key %s is missing", name)
			}
		}
	}
	return findings, nil
}

func sourceErr(err error) error {
	if errors.Is(err, common.ErrConnectivity) {
		return err
	}
	return &common.ConnectivityError{Store: "source", Err: err}
}
