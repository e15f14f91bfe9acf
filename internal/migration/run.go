package migration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libreviews/revdal/internal/common"
	"github.com/libreviews/revdal/internal/validate"
)

// State is a step of the run state machine.
type State string

const (
	StateInitializing State = "initializing"
	StateMigrating    State = "migrating"
	StateValidating   State = "validating"
	StateReporting    State = "reporting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Status is the overall outcome written to the report.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// KindStats counts the work done for one entity kind.
type KindStats struct {
	Kind        string        `json:"kind"`
	SourceCount int64         `json:"source_count"`
	Fetched     int           `json:"fetched"`
	Migrated    int           `json:"migrated"`
	Skipped     int           `json:"skipped"`
	Fixed       int           `json:"fixed"`
	Backfilled  int           `json:"backfilled"`
	Batches     int           `json:"batches"`
	Relinked    int64         `json:"relinked"`
	Completed   bool          `json:"completed"`
	Duration    time.Duration `json:"duration_ns"`
}

// RunError is one error recorded during a run.
type RunError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run tracks one migration run in memory until it is reported.
type Run struct {
	mu sync.Mutex

	ID           string             `json:"id"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	State        State              `json:"state"`
	Transitions  []State            `json:"transitions"`
	TableIndex   int                `json:"table_index"`
	DryRun       bool               `json:"dry_run"`
	ValidateOnly bool               `json:"validate_only"`
	Interrupted  bool               `json:"interrupted"`
	Kinds        []*KindStats       `json:"kinds"`
	Errors       []RunError         `json:"errors"`
	Findings     []validate.Finding `json:"findings"`
}

// NewRun starts a run in the Initializing state.
func NewRun(now time.Time, opts Options) *Run {
	return &Run{
		ID:           uuid.NewString(),
		StartedAt:    now,
		State:        StateInitializing,
		Transitions:  []State{StateInitializing},
		DryRun:       opts.DryRun,
		ValidateOnly: opts.ValidateOnly,
	}
}

func (r *Run) transition(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Run) addError(kind string, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, RunError{Type: common.ErrorType(err), Message: err.Error(), Kind: kind, Timestamp: at})
}

func (r *Run) kind(name string) *KindStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.Kinds {
		if k.Kind == name {
			return k
		}
	}
	k := &KindStats{Kind: name}
	r.Kinds = append(r.Kinds, k)
	return k
}

// Failed reports whether the run reached the Failed state.
func (r *Run) Failed() bool {
	for _, s := range r.Transitions {
		if s == StateFailed {
			return true
		}
	}
	return false
}

// Status derives the overall outcome. Any recorded error or error finding
// fails the run even when the state machine finished normally.
func (r *Run) Status() Status {
	switch {
	case r.Interrupted:
		return StatusInterrupted
	case r.Failed(), len(r.Errors) > 0, validate.HasErrors(r.Findings):
		return StatusFailed
	default:
		return StatusSucceeded
	}
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals sums the per-kind counts.
func (r *Run) Totals() KindStats {
	t := KindStats{Kind: "total"}
	for _, k := range r.Kinds {
		t.SourceCount += k.SourceCount
		t.Fetched += k.Fetched
		t.Migrated += k.Migrated
		t.Skipped += k.Skipped
		t.Fixed += k.Fixed
		t.Backfilled += k.Backfilled
		t.Batches += k.Batches
		t.Relinked += k.Relinked
	}
	return t
}

// Skipped maps kind names to records intentionally left out.
func (r *Run) Skipped() map[string]int {
	out := make(map[string]int, len(r.Kinds))
	for _, k := range r.Kinds {
		out[k.Kind] = k.Skipped
	}
	return out
}

// FailedRun records a run that failed before the orchestrator could start,
// e.g. because a store could not be opened.
func FailedRun(opts Options, err error) *Run {
	now := time.Now()
	run := NewRun(now, opts)
	run.addError(errorKind(err), err, now)
	run.transition(StateFailed)
	run.FinishedAt = now
	return run
}
