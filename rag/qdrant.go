package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant-backed VectorIndex.
//
// Collection names passed to Search/Upsert are prefixed with
// CollectionPrefix, so one Qdrant instance can host several deployments.
// Qdrant point IDs are UUIDs; a stable UUID is derived from the passage ID.
type QdrantConfig struct {
	Host    string        `json:"host" yaml:"host"`
	Port    int           `json:"port" yaml:"port"`
	BaseURL string        `json:"base_url,omitempty" yaml:"base_url"`
	APIKey  string        `json:"api_key,omitempty" yaml:"api_key"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`

	CollectionPrefix string `json:"collection_prefix,omitempty" yaml:"collection_prefix"`
	KeywordsField    string `json:"keywords_field,omitempty" yaml:"keywords_field"` // payload key, default "keywords"
	TopicsField      string `json:"topics_field,omitempty" yaml:"topics_field"`     // payload key, default "topics"
	ContentField     string `json:"content_field,omitempty" yaml:"content_field"`   // payload key, default "content"
	DocumentIDField  string `json:"document_id_field,omitempty" yaml:"document_id_field"`
	PassageIDField   string `json:"passage_id_field,omitempty" yaml:"passage_id_field"`
}

// QdrantIndex implements VectorIndex using Qdrant's REST API.
type QdrantIndex struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewQdrantIndex creates a Qdrant-backed VectorIndex.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.KeywordsField == "" {
		cfg.KeywordsField = "keywords"
	}
	if cfg.TopicsField == "" {
		cfg.TopicsField = "topics"
	}
	if cfg.ContentField == "" {
		cfg.ContentField = "content"
	}
	if cfg.DocumentIDField == "" {
		cfg.DocumentIDField = "document_id"
	}
	if cfg.PassageIDField == "" {
		cfg.PassageIDField = "passage_id"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_index")),
	}
}

var qdrantNamespace = uuid.MustParse("7c1de2b8-90fb-4c5d-a1e3-6b2f0d4c8a91")

// qdrantPointID derives a stable UUID from any passage ID string.
func qdrantPointID(passageID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(passageID)).String()
}

func (q *QdrantIndex) collectionName(collection string) string {
	return q.cfg.CollectionPrefix + collection
}

// qdrantFilter translates a SearchFilter into Qdrant's match-any clauses.
func (q *QdrantIndex) qdrantFilter(filter *SearchFilter) map[string]any {
	if filter == nil {
		return nil
	}
	var must []map[string]any
	if len(filter.Keywords) > 0 {
		must = append(must, map[string]any{
			"key":   q.cfg.KeywordsField,
			"match": map[string]any{"any": filter.Keywords},
		})
	}
	if len(filter.Topics) > 0 {
		must = append(must, map[string]any{
			"key":   q.cfg.TopicsField,
			"match": map[string]any{"any": filter.Topics},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

// Search runs a nearest-neighbor query against one collection.
func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, filter *SearchFilter, k int) ([]IndexHit, error) {
	if k <= 0 {
		k = 10
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := q.qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	path := fmt.Sprintf("/collections/%s/points/search", q.collectionName(collection))
	var out qdrantSearchResponse
	if err := q.post(ctx, path, body, &out); err != nil {
		return nil, fmt.Errorf("qdrant search %s: %w", collection, err)
	}

	hits := make([]IndexHit, 0, len(out.Result))
	for _, r := range out.Result {
		hit := IndexHit{
			PassageID: payloadString(r.Payload, q.cfg.PassageIDField),
			// Cosine similarity score back to a distance.
			Distance: 1.0 - r.Score,
		}
		if hit.PassageID == "" {
			hit.PassageID = fmt.Sprintf("%v", r.ID)
		}
		hit.DocumentID = payloadString(r.Payload, q.cfg.DocumentIDField)
		hit.Content = payloadString(r.Payload, q.cfg.ContentField)
		hit.Metadata = PassageMetadata{
			Keywords: payloadStrings(r.Payload, q.cfg.KeywordsField),
			Topics:   payloadStrings(r.Payload, q.cfg.TopicsField),
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Upsert writes passages with embeddings into a collection.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, passages ...IndexedPassage) error {
	points := make([]map[string]any, 0, len(passages))
	for _, p := range passages {
		if p.Embedding == nil {
			return fmt.Errorf("passage %s has no embedding", p.ID)
		}
		points = append(points, map[string]any{
			"id":     qdrantPointID(p.ID),
			"vector": p.Embedding,
			"payload": map[string]any{
				q.cfg.PassageIDField:  p.ID,
				q.cfg.DocumentIDField: p.DocumentID,
				q.cfg.ContentField:    p.Content,
				q.cfg.KeywordsField:   p.Metadata.Keywords,
				q.cfg.TopicsField:     p.Metadata.Topics,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName(collection))
	if err := q.put(ctx, path, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", collection, err)
	}
	q.logger.Debug("passages upserted", zap.String("collection", collection), zap.Int("count", len(points)))
	return nil
}

func (q *QdrantIndex) post(ctx context.Context, path string, body, out any) error {
	return q.do(ctx, http.MethodPost, path, body, out)
}

func (q *QdrantIndex) put(ctx context.Context, path string, body, out any) error {
	return q.do(ctx, http.MethodPut, path, body, out)
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.APIKey != "" {
		req.Header.Set("api-key", q.cfg.APIKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadStrings(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
