package rag

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/types"
)

// Stage names, in fallback order.
const (
	StageKeyword    = "keyword"
	StageTopic      = "topic"
	StageUnfiltered = "unfiltered"
)

// RetrieverConfig configures staged retrieval.
type RetrieverConfig struct {
	// MaxResults is the default result cap when the caller passes none.
	MaxResults int `json:"max_results" yaml:"max_results"`
	// MinAcceptable is the hit count at which a stage is accepted and
	// later stages are skipped.
	MinAcceptable int `json:"min_acceptable" yaml:"min_acceptable"`
	// ScopeTimeout bounds each per-scope index call. Zero disables the
	// per-scope bound (the query deadline still applies).
	ScopeTimeout time.Duration `json:"scope_timeout" yaml:"scope_timeout"`
	// StageHook, when set, observes each executed stage. Observational
	// only.
	StageHook func(stage string, hits int) `json:"-" yaml:"-"`
}

// DefaultRetrieverConfig returns default retrieval settings.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		MaxResults:    8,
		MinAcceptable: 1,
		ScopeTimeout:  10 * time.Second,
	}
}

// Retriever performs metadata-boosted semantic retrieval with staged
// fallback: keyword-filtered, then topic-filtered, then unrestricted
// search. Each stage fans out across all scopes concurrently.
type Retriever struct {
	index    VectorIndex
	embedder llm.Embedder
	intent   *IntentExtractor
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever creates a Retriever. intent may be nil, in which case the
// metadata-filtered stages are always skipped.
func NewRetriever(index VectorIndex, embedder llm.Embedder, intent *IntentExtractor, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultRetrieverConfig().MaxResults
	}
	if cfg.MinAcceptable <= 0 {
		cfg.MinAcceptable = 1
	}
	return &Retriever{
		index:    index,
		embedder: embedder,
		intent:   intent,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

type retrievalStage struct {
	name   string
	filter *SearchFilter
}

// Retrieve returns up to maxResults passages for query across scopes,
// ordered by descending calibrated similarity. A maxResults <= 0 uses the
// configured default. A single scope failing is tolerated; the operation
// fails only when every scope's index call fails.
func (r *Retriever) Retrieve(ctx context.Context, query string, scopes []string, maxResults int) ([]Passage, error) {
	if len(scopes) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "retrieve requires at least one scope")
	}
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrRetrievalUnavailable, "query embedding failed").
			WithStage("embed").WithCause(err)
	}

	var intent QueryIntent
	if r.intent != nil {
		intent = r.intent.Extract(ctx, query)
	}

	stages := make([]retrievalStage, 0, 3)
	if len(intent.Keywords) > 0 {
		stages = append(stages, retrievalStage{StageKeyword, &SearchFilter{Keywords: intent.Keywords}})
	}
	if len(intent.Topics) > 0 {
		stages = append(stages, retrievalStage{StageTopic, &SearchFilter{Topics: intent.Topics}})
	}
	stages = append(stages, retrievalStage{StageUnfiltered, nil})

	var passages []Passage
	var failedScopes int
	for _, stage := range stages {
		passages, failedScopes = r.searchStage(ctx, stage, scopes, vector, maxResults)
		if r.cfg.StageHook != nil {
			r.cfg.StageHook(stage.name, len(passages))
		}
		r.logger.Debug("retrieval stage executed",
			zap.String("stage", stage.name),
			zap.Int("hits", len(passages)),
			zap.Int("failed_scopes", failedScopes))
		if len(passages) >= r.cfg.MinAcceptable {
			return passages, nil
		}
	}

	// The unrestricted stage ran last. Zero hits with every scope failing
	// means retrieval itself is down, not that the index is empty.
	if len(passages) == 0 && failedScopes == len(scopes) {
		return nil, types.NewError(types.ErrRetrievalUnavailable, "all scopes failed").
			WithStage(StageUnfiltered).WithRetryable(true)
	}
	return passages, nil
}

// searchStage dispatches one stage's search to every scope concurrently,
// then calibrates, merges, deduplicates, sorts, and truncates.
func (r *Retriever) searchStage(ctx context.Context, stage retrievalStage, scopes []string, vector []float32, maxResults int) ([]Passage, int) {
	var (
		mu      sync.Mutex
		allHits []IndexHit
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		scope := scope
		g.Go(func() error {
			scopeCtx := gctx
			if r.cfg.ScopeTimeout > 0 {
				var cancel context.CancelFunc
				scopeCtx, cancel = context.WithTimeout(gctx, r.cfg.ScopeTimeout)
				defer cancel()
			}

			hits, err := r.index.Search(scopeCtx, scope, vector, stage.filter, maxResults)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.logger.Warn("scope search failed",
					zap.String("stage", stage.name),
					zap.String("scope", scope),
					zap.Error(err))
				// Scope failures are tolerated; never fail the group.
				return nil
			}
			allHits = append(allHits, hits...)
			return nil
		})
	}
	_ = g.Wait()

	return mergeHits(allHits, maxResults), failed
}

// mergeHits calibrates raw hits, deduplicates by passage ID keeping the
// highest-similarity instance, sorts descending by similarity (ties by ID
// for determinism), and truncates to maxResults.
func mergeHits(hits []IndexHit, maxResults int) []Passage {
	best := make(map[string]Passage, len(hits))
	for _, h := range hits {
		p := Passage{
			ID:         h.PassageID,
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Similarity: CalibrateSimilarity(h.Distance),
			Metadata:   h.Metadata,
		}
		if prev, ok := best[p.ID]; !ok || p.Similarity > prev.Similarity {
			best[p.ID] = p
		}
	}

	merged := make([]Passage, 0, len(best))
	for _, p := range best {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].ID < merged[j].ID
	})
	if maxResults > 0 && maxResults < len(merged) {
		merged = merged[:maxResults]
	}
	return merged
}
