// Package source reads the legacy document store.
package source

import (
	"context"
	"fmt"
)

// Record is one raw source document.
type Record map[string]any

// ID returns the record's identity as a string, or "" when absent.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Store is the source-side contract of the migration.
type Store interface {
	ListTables(ctx context.Context) ([]string, error)
	Count(ctx context.Context, table string) (int64, error)
	// FetchBatch returns at most limit records starting at offset, ordered by id.
	FetchBatch(ctx context.Context, table string, offset, limit int) ([]Record, error)
	// Sample returns up to n records picked at random.
	Sample(ctx context.Context, table string, n int) ([]Record, error)
	Close(ctx context.Context) error
}
