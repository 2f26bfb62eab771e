package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SearchFilter restricts a vector search to passages whose metadata
// intersects the given sets. A non-empty Keywords (or Topics) slice means
// the passage must share at least one keyword (or topic). A nil filter
// matches everything.
type SearchFilter struct {
	Keywords []string `json:"keywords,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// Matches reports whether metadata passes the filter.
func (f *SearchFilter) Matches(meta PassageMetadata) bool {
	if f == nil {
		return true
	}
	if len(f.Keywords) > 0 && !intersects(f.Keywords, meta.Keywords) {
		return false
	}
	if len(f.Topics) > 0 && !intersects(f.Topics, meta.Topics) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

// IndexHit is one raw nearest-neighbor result. Distance is the index's
// native metric; calibration to a similarity happens in the retriever.
type IndexHit struct {
	PassageID  string          `json:"passage_id"`
	DocumentID string          `json:"document_id"`
	Content    string          `json:"content"`
	Distance   float64         `json:"distance"`
	Metadata   PassageMetadata `json:"metadata"`
}

// VectorIndex is the external nearest-neighbor capability. Collections
// partition passages by scope (e.g. per tenant or per document set).
type VectorIndex interface {
	// Search returns up to k nearest hits in collection for vector,
	// restricted by filter when non-nil.
	Search(ctx context.Context, collection string, vector []float32, filter *SearchFilter, k int) ([]IndexHit, error)
}

// IndexedPassage is a passage plus its embedding, as stored in an index.
type IndexedPassage struct {
	Passage
	Embedding []float32 `json:"embedding"`
}

// InMemoryIndex is a filterable, cosine-distance VectorIndex for tests and
// small deployments.
type InMemoryIndex struct {
	mu          sync.RWMutex
	collections map[string][]IndexedPassage
	logger      *zap.Logger
}

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex(logger *zap.Logger) *InMemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryIndex{
		collections: make(map[string][]IndexedPassage),
		logger:      logger.With(zap.String("component", "inmemory_index")),
	}
}

// Upsert adds or replaces passages in a collection, keyed by passage ID.
func (ix *InMemoryIndex) Upsert(collection string, passages ...IndexedPassage) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	existing := ix.collections[collection]
	for _, p := range passages {
		if p.Embedding == nil {
			return fmt.Errorf("passage %s has no embedding", p.ID)
		}
		replaced := false
		for i := range existing {
			if existing[i].ID == p.ID {
				existing[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, p)
		}
	}
	ix.collections[collection] = existing

	ix.logger.Debug("passages upserted",
		zap.String("collection", collection),
		zap.Int("count", len(passages)),
		zap.Int("total", len(existing)))
	return nil
}

// Count returns the number of passages in a collection.
func (ix *InMemoryIndex) Count(collection string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.collections[collection])
}

// Search scans the collection, applies the metadata filter, and returns
// the k nearest passages by cosine distance.
func (ix *InMemoryIndex) Search(ctx context.Context, collection string, vector []float32, filter *SearchFilter, k int) ([]IndexHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	passages := ix.collections[collection]
	hits := make([]IndexHit, 0, len(passages))
	for _, p := range passages {
		if !filter.Matches(p.Metadata) {
			continue
		}
		hits = append(hits, IndexHit{
			PassageID:  p.ID,
			DocumentID: p.DocumentID,
			Content:    p.Content,
			Distance:   1.0 - cosineSimilarity(vector, p.Embedding),
			Metadata:   p.Metadata,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].PassageID < hits[j].PassageID
	})
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
