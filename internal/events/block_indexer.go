package events

import (
	"context"
	"fmt"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
)

// DocumentIndex is the subset of the Elasticsearch client used for blocks.
type DocumentIndex interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error
	EnsureIndex(ctx context.Context, index string, mapping map[string]interface{}) error
}

var blockMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"event_id":      map[string]interface{}{"type": "keyword"},
			"kind":          map[string]interface{}{"type": "keyword"},
			"limit_type":    map[string]interface{}{"type": "keyword"},
			"identifier":    map[string]interface{}{"type": "keyword"},
			"key":           map[string]interface{}{"type": "keyword"},
			"allowed":       map[string]interface{}{"type": "boolean"},
			"remaining":     map[string]interface{}{"type": "integer"},
			"reset_seconds": map[string]interface{}{"type": "integer"},
			"attempt_count": map[string]interface{}{"type": "integer"},
			"error":         map[string]interface{}{"type": "text"},
			"occurred_at":   map[string]interface{}{"type": "date"},
		},
	},
}

const defaultSearchSize = 50

// BlockIndexer stores block events in Elasticsearch for moderation lookups.
// Other event kinds are ignored.
type BlockIndexer struct {
	index DocumentIndex
	name  string
}

func NewBlockIndexer(index DocumentIndex, indexName string) *BlockIndexer {
	return &BlockIndexer{index: index, name: indexName}
}

func (b *BlockIndexer) Name() string { return "elasticsearch" }

// EnsureIndex creates the block index with keyword mappings for the filter
// fields.
func (b *BlockIndexer) EnsureIndex(ctx context.Context) error {
	return b.index.EnsureIndex(ctx, b.name, blockMapping)
}

func (b *BlockIndexer) Publish(ctx context.Context, event models.RateLimitEvent) error {
	if event.Kind != models.EventBlocked {
		return nil
	}
	return b.index.IndexDocument(ctx, b.name, event.EventID, event)
}

// BlockQuery filters SearchBlocks. Empty fields match everything.
type BlockQuery struct {
	Identifier string
	LimitType  string
	Size       int
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.RateLimitEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchBlocks returns the most recent block events matching q.
func (b *BlockIndexer) SearchBlocks(ctx context.Context, q BlockQuery) ([]models.RateLimitEvent, error) {
	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}

	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"kind": string(models.EventBlocked)}},
	}
	if q.Identifier != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"identifier": q.Identifier}})
	}
	if q.LimitType != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"limit_type": q.LimitType}})
	}

	query := map[string]interface{}{
		"size": size,
		"sort": []interface{}{
			map[string]interface{}{"occurred_at": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	}

	var res searchResponse
	if err := b.index.Search(ctx, b.name, query, &res); err != nil {
		return nil, fmt.Errorf("failed to search blocks: %w", err)
	}

	out := make([]models.RateLimitEvent, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
