package search

import (
	"context"

	"github.com/libreviews/revdal/pkg/elasticsearch"
)

// Elastic keeps one Elasticsearch index per entity kind, named prefix+kind.
type Elastic struct {
	client *elasticsearch.Client
	prefix string
}

// NewElastic creates an indexer over client.
func NewElastic(client *elasticsearch.Client, indexPrefix string) *Elastic {
	return &Elastic{client: client, prefix: indexPrefix}
}

// IndexName returns the index holding kind.
func (e *Elastic) IndexName(kind string) string {
	return e.prefix + kind
}

// EnsureIndexes creates missing indexes with dynamic mappings.
func (e *Elastic) EnsureIndexes(ctx context.Context, kinds []string) error {
	for _, kind := range kinds {
		if err := e.client.CreateIndex(ctx, e.IndexName(kind), map[string]interface{}{
			"mappings": map[string]interface{}{"dynamic": true},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Elastic) IndexEntity(ctx context.Context, kind string, doc Document) error {
	return e.client.IndexDocument(ctx, e.IndexName(kind), doc.DocumentID(), doc)
}

func (e *Elastic) DeleteEntity(ctx context.Context, kind, id string) error {
	return e.client.DeleteDocument(ctx, e.IndexName(kind), id)
}

func (e *Elastic) IndexBatch(ctx context.Context, kind string, docs []Document) error {
	body := make(map[string]interface{}, len(docs))
	for _, d := range docs {
		body[d.DocumentID()] = d
	}
	return e.client.BulkIndex(ctx, e.IndexName(kind), body)
}
