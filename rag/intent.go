package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/llm"
)

// QueryIntent is the keyword and topic sets extracted from a question by a
// single completion call. It is derived per query and never persisted.
type QueryIntent struct {
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
}

// Empty reports whether extraction produced nothing usable.
func (qi QueryIntent) Empty() bool {
	return len(qi.Keywords) == 0 && len(qi.Topics) == 0
}

const intentPrompt = `Extract search metadata from the question below.

Question: %q

Respond with ONLY a JSON object in this exact shape, no other text:
{"keywords": ["..."], "topics": ["..."]}

Keywords are the specific terms a relevant document would contain.
Topics are broader subject areas (1-3 words each). Lowercase everything.
Return at most 8 keywords and 4 topics.`

// IntentCache caches extracted intents keyed by query hash.
type IntentCache interface {
	Get(ctx context.Context, key string) (*QueryIntent, bool)
	Set(ctx context.Context, key string, intent *QueryIntent)
}

// memoryIntentCache is the in-process fallback cache.
type memoryIntentCache struct {
	mu      sync.RWMutex
	entries map[string]memoryIntentEntry
	ttl     time.Duration
}

type memoryIntentEntry struct {
	intent    QueryIntent
	expiresAt time.Time
}

// NewMemoryIntentCache creates an in-process TTL cache.
func NewMemoryIntentCache(ttl time.Duration) IntentCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &memoryIntentCache{entries: make(map[string]memoryIntentEntry), ttl: ttl}
}

func (c *memoryIntentCache) Get(ctx context.Context, key string) (*QueryIntent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	intent := e.intent
	return &intent, true
}

func (c *memoryIntentCache) Set(ctx context.Context, key string, intent *QueryIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryIntentEntry{intent: *intent, expiresAt: time.Now().Add(c.ttl)}
}

// RedisIntentCache caches intents in Redis so repeated questions across
// processes skip the extraction call. Cache errors are swallowed; a broken
// cache degrades to extraction, never to a failed query.
type RedisIntentCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisIntentCache creates a Redis-backed intent cache.
func NewRedisIntentCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisIntentCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisIntentCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "intent_cache")),
	}
}

func (c *RedisIntentCache) redisKey(key string) string {
	return "quorumflow:intent:" + key
}

func (c *RedisIntentCache) Get(ctx context.Context, key string) (*QueryIntent, bool) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("intent cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var intent QueryIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		c.logger.Warn("intent cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return &intent, true
}

func (c *RedisIntentCache) Set(ctx context.Context, key string, intent *QueryIntent) {
	data, err := json.Marshal(intent)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("intent cache set failed", zap.Error(err))
	}
}

// IntentExtractor derives QueryIntent from a question with one completion
// call. Extraction fails soft: any error yields an empty intent so the
// retriever can skip its metadata-filtered stages.
type IntentExtractor struct {
	provider    llm.CompletionProvider
	cache       IntentCache
	temperature float64
	logger      *zap.Logger
}

// NewIntentExtractor creates an extractor. cache may be nil to disable
// caching.
func NewIntentExtractor(provider llm.CompletionProvider, cache IntentCache, temperature float64, logger *zap.Logger) *IntentExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentExtractor{
		provider:    provider,
		cache:       cache,
		temperature: temperature,
		logger:      logger.With(zap.String("component", "intent_extractor")),
	}
}

// Extract returns the intent for query, consulting the cache first.
func (e *IntentExtractor) Extract(ctx context.Context, query string) QueryIntent {
	key := intentCacheKey(query)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			e.logger.Debug("intent cache hit", zap.String("key", key))
			return *cached
		}
	}

	resp, err := e.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:      strings.TrimSpace(sprintfIntent(query)),
		Temperature: e.temperature,
	})
	if err != nil {
		e.logger.Warn("intent extraction failed, proceeding without intent", zap.Error(err))
		return QueryIntent{}
	}

	intent := parseIntent(resp.Text)
	if intent.Empty() {
		e.logger.Warn("intent extraction returned nothing usable",
			zap.String("raw", truncateForLog(resp.Text)))
		return intent
	}

	if e.cache != nil {
		e.cache.Set(ctx, key, &intent)
	}
	e.logger.Debug("intent extracted",
		zap.Strings("keywords", intent.Keywords),
		zap.Strings("topics", intent.Topics))
	return intent
}

func sprintfIntent(query string) string {
	// strconv-style quoting keeps multi-line questions on one prompt line.
	return strings.Replace(intentPrompt, "%q", jsonQuote(query), 1)
}

func jsonQuote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `"` + s + `"`
	}
	return string(data)
}

// parseIntent tolerates prose around the JSON object by extracting the
// first {...} block before unmarshalling.
func parseIntent(text string) QueryIntent {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return QueryIntent{}
	}
	var intent QueryIntent
	if err := json.Unmarshal([]byte(text[start:end+1]), &intent); err != nil {
		return QueryIntent{}
	}
	intent.Keywords = normalizeTerms(intent.Keywords)
	intent.Topics = normalizeTerms(intent.Topics)
	return intent
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func intentCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max]
	}
	return s
}
