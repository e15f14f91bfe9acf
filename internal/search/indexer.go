// Package search notifies the external search index about committed rows.
// Only current, live rows are ever indexed.
package search

import (
	"context"
)

// Document is anything with a stable document id.
type Document interface {
	DocumentID() string
}

// Indexer is the index-maintenance contract.
type Indexer interface {
	IndexEntity(ctx context.Context, kind string, doc Document) error
	DeleteEntity(ctx context.Context, kind, id string) error
}

// BatchIndexer is implemented by indexers that can index many rows at once.
type BatchIndexer interface {
	IndexBatch(ctx context.Context, kind string, docs []Document) error
}

// Noop discards every call.
type Noop struct{}

func (Noop) IndexEntity(context.Context, string, Document) error { return nil }

func (Noop) DeleteEntity(context.Context, string, string) error { return nil }
