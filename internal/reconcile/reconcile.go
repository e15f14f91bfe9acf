// Package reconcile resolves references that the legacy store never enforced.
// Rows whose required references are missing are dropped; missing optional
// references are replaced by a fallback or cleared.
package reconcile

import (
	"context"
	"fmt"
	"sort"
)

// Checker answers which of ids exist in a target base table.
type Checker interface {
	Existing(ctx context.Context, table string, ids []string) (map[string]bool, error)
}

// Known holds ids that count as present although they are not in the
// target, e.g. rows a dry run would have inserted.
type Known struct {
	ids map[string]map[string]bool
}

// NewKnown creates an empty set.
func NewKnown() *Known {
	return &Known{ids: map[string]map[string]bool{}}
}

// Add marks ids of table as present.
func (k *Known) Add(table string, ids ...string) {
	if k == nil {
		return
	}
	set := k.ids[table]
	if set == nil {
		set = map[string]bool{}
		k.ids[table] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// Has reports whether id of table was added.
func (k *Known) Has(table, id string) bool {
	if k == nil {
		return false
	}
	return k.ids[table][id]
}

// Ref describes one reference column of T.
type Ref[T any] struct {
	Column   string
	Table    string
	Required bool
	Get      func(*T) string
	// Set replaces an optional reference; "" clears it.
	Set func(*T, string)
	// Fallback proposes a substitute for a missing optional reference.
	Fallback func(*T) string
}

// Drop is a row excluded for a missing required reference.
type Drop struct {
	Kind      string `json:"kind"`
	RecordID  string `json:"record_id"`
	Column    string `json:"column"`
	MissingID string `json:"missing_id"`
}

// Fix is an optional reference that was substituted or cleared.
type Fix struct {
	Kind        string `json:"kind"`
	RecordID    string `json:"record_id"`
	Column      string `json:"column"`
	MissingID   string `json:"missing_id"`
	Replacement string `json:"replacement,omitempty"`
}

// Outcome is the cleaned batch.
type Outcome[T any] struct {
	Kept  []T
	Drops []Drop
	Fixes []Fix
}

// Reconciler checks references against the target store.
type Reconciler struct {
	checker Checker
	known   *Known
}

// New creates a reconciler. known may be nil.
func New(checker Checker, known *Known) *Reconciler {
	return &Reconciler{checker: checker, known: known}
}

// Known returns the set of ids treated as present.
func (r *Reconciler) Known() *Known { return r.known }

// Reconcile applies refs to every row. It issues one existence query per
// referenced table. Running it again over its own output changes nothing.
func Reconcile[T any](ctx context.Context, r *Reconciler, kind string, rows []T, id func(*T) string, refs []Ref[T]) (Outcome[T], error) {
	out := Outcome[T]{Kept: make([]T, 0, len(rows))}
	if len(rows) == 0 || len(refs) == 0 {
		out.Kept = append(out.Kept, rows...)
		return out, nil
	}

	present, err := lookup(ctx, r, rows, refs)
	if err != nil {
		return out, err
	}
	exists := func(table, id string) bool {
		return present[table][id] || r.known.Has(table, id)
	}

	for _, row := range rows {
		dropped := false
		for _, ref := range refs {
			v := ref.Get(&row)
			if v != "" && exists(ref.Table, v) {
				continue
			}
			if ref.Required {
				out.Drops = append(out.Drops, Drop{Kind: kind, RecordID: id(&row), Column: ref.Column, MissingID: v})
				dropped = true
				break
			}
			if v == "" {
				continue
			}
			replacement := ""
			if ref.Fallback != nil {
				if fb := ref.Fallback(&row); fb != "" && exists(ref.Table, fb) {
					replacement = fb
				}
			}
			ref.Set(&row, replacement)
			out.Fixes = append(out.Fixes, Fix{Kind: kind, RecordID: id(&row), Column: ref.Column, MissingID: v, Replacement: replacement})
		}
		if !dropped {
			out.Kept = append(out.Kept, row)
		}
	}
	return out, nil
}

// lookup collects every referenced id (fallbacks included) per table and
// asks the checker about those not already known.
func lookup[T any](ctx context.Context, r *Reconciler, rows []T, refs []Ref[T]) (map[string]map[string]bool, error) {
	wanted := map[string]map[string]bool{}
	add := func(table, id string) {
		if id == "" || r.known.Has(table, id) {
			return
		}
		if wanted[table] == nil {
			wanted[table] = map[string]bool{}
		}
		wanted[table][id] = true
	}
	for i := range rows {
		for _, ref := range refs {
			add(ref.Table, ref.Get(&rows[i]))
			if ref.Fallback != nil {
				add(ref.Table, ref.Fallback(&rows[i]))
			}
		}
	}

	tables := make([]string, 0, len(wanted))
	for t := range wanted {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	present := make(map[string]map[string]bool, len(wanted))
	for _, table := range tables {
		ids := make([]string, 0, len(wanted[table]))
		for id := range wanted[table] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		found, err := r.checker.Existing(ctx, table, ids)
		if err != nil {
			return nil, fmt.Errorf("check references to %s: %w", table, err)
		}
		present[table] = found
	}
	return present, nil
}
