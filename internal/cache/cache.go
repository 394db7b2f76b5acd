// Package cache implements the two-tier semantic cache: an exact-match KV
// tier for identical questions and a vector index tier for paraphrases.
//
// Consistency model between the tiers is intentionally relaxed: every vector
// point must have a KV twin under the same derived key, but KV-only entries
// are valid (the vector write is best-effort). A vector hit whose KV twin is
// missing is treated as a miss, never as an error.
//
// Every public method fails open: store errors are logged and reported as
// "no cache effect" so cache unavailability degrades chat to uncached
// behavior instead of breaking it.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTTL bounds how long an exact-match entry stays servable.
	DefaultTTL = 24 * time.Hour

	// DefaultMinScore is the similarity floor for semantic hits.
	DefaultMinScore = 0.90

	// scanBatch is the SCAN page size used by Purge.
	scanBatch = 200
)

// SemanticCache coordinates the KV and vector tiers.
//
// SemanticCache is safe for concurrent use by many request pipelines: it
// holds no per-request state, and the underlying clients pool connections.
type SemanticCache struct {
	kv       KV
	index    VectorIndex
	embedder Embedder
	ttl      time.Duration
	logger   *slog.Logger
}

// New creates a SemanticCache. ttl <= 0 selects DefaultTTL.
func New(kv KV, index VectorIndex, embedder Embedder, ttl time.Duration, logger *slog.Logger) *SemanticCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SemanticCache{
		kv:       kv,
		index:    index,
		embedder: embedder,
		ttl:      ttl,
		logger:   logger,
	}
}

// EmbedQuestion computes the question embedding, failing open: on error it
// logs and returns nil, which downgrades Lookup to exact-match only.
func (c *SemanticCache) EmbedQuestion(ctx context.Context, question string) []float32 {
	if c.embedder == nil {
		return nil
	}
	embedding, err := c.embedder.Embed(ctx, NormalizeQuestion(question))
	if err != nil {
		c.logger.Warn("question embedding failed, semantic lookup disabled for this request", "error", err)
		return nil
	}
	return embedding
}

// Lookup resolves a cached answer for question within scope.
//
// Order: exact key first (an exact hit skips vector search entirely), then
// nearest neighbor at or above minScore with the scope filter applied.
// A semantic hit is resolved back to its KV twin and re-validated against
// the scope before being returned. Returns nil on any miss or store error.
func (c *SemanticCache) Lookup(ctx context.Context, question, scope string, embedding []float32, minScore float64) *Entry {
	exactKey := DeriveExactKey(question, scope)

	if entry := c.getEntry(ctx, exactKey, scope); entry != nil {
		c.logger.Debug("exact cache hit", "scope", scope)
		return entry
	}

	if len(embedding) == 0 {
		return nil
	}

	hits, err := c.index.Query(ctx, scope, embedding, minScore, 1)
	if err != nil {
		c.logger.Warn("vector query failed, treating as cache miss", "scope", scope, "error", err)
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	hit := hits[0]
	storedKey, _ := hit.Payload["exact_key"].(string)
	if storedKey == "" {
		c.logger.Warn("vector hit without exact_key payload, treating as miss", "point_id", hit.ID)
		return nil
	}
	if !KeyInScope(storedKey, scope) {
		c.logger.Warn("vector hit resolved to a key outside the requested scope, treating as miss",
			"scope", scope, "point_id", hit.ID)
		return nil
	}

	entry := c.getEntry(ctx, storedKey, scope)
	if entry == nil {
		// Vector point without a KV twin: expired or the KV write never
		// landed. Relaxed consistency treats it as non-existent.
		c.logger.Warn("vector hit missing KV twin, treating as miss",
			"scope", scope, "point_id", hit.ID, "score", hit.Score)
		return nil
	}

	c.logger.Debug("semantic cache hit", "scope", scope, "score", hit.Score)
	return entry
}

// getEntry fetches and decodes a KV entry, enforcing the scope guard.
// Any error or malformed payload is a miss.
func (c *SemanticCache) getEntry(ctx context.Context, key, scope string) *Entry {
	raw, found, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warn("KV get failed, treating as cache miss", "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Permissive payload policy: a payload we cannot decode is a miss,
		// not an error surfaced to the caller.
		c.logger.Warn("cached payload is malformed, treating as miss", "error", err)
		return nil
	}
	if entry.Scope != scope {
		c.logger.Warn("cached payload scope mismatch, treating as miss",
			"want", scope, "got", entry.Scope)
		return nil
	}
	return &entry
}

// Store writes a new Q/A pair into both tiers.
//
// The KV write happens first and is the durable part: its failure aborts the
// vector write so the "every point has a KV twin" invariant holds at write
// time. The vector write is best-effort enrichment; its failure is logged
// and never surfaced. Store itself never returns an error (fail-open).
func (c *SemanticCache) Store(ctx context.Context, question, scope string, embedding []float32, entry Entry) {
	exactKey := DeriveExactKey(question, scope)
	entry.ExactKey = exactKey
	entry.Scope = scope
	entry.Question = NormalizeQuestion(question)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache entry not stored: marshal failed", "scope", scope, "error", err)
		return
	}

	if err := c.kv.SetEx(ctx, exactKey, c.ttl, string(payload)); err != nil {
		c.logger.Warn("cache entry not stored: KV write failed", "scope", scope, "error", err)
		return
	}

	if len(embedding) == 0 {
		// Exact-match tier only; nothing to index.
		return
	}

	point := Point{
		ID:        PointID(exactKey),
		Scope:     scope,
		Embedding: embedding,
		Payload: map[string]any{
			"exact_key": exactKey,
			"scope":     scope,
			"question":  entry.Question,
		},
	}
	if err := c.index.Upsert(ctx, point); err != nil {
		c.logger.Warn("vector upsert failed, entry remains exact-match only",
			"scope", scope, "error", err)
	}
}

// Purge removes every cached entry for a tenant scope from both tiers.
//
// The KV side walks the scope prefix with cursor-based SCAN (never a full
// key dump); the vector side deletes by scope tag. The two sub-deletions run
// concurrently and partial failure of either is logged, not raised.
func (c *SemanticCache) Purge(ctx context.Context, scope string) {
	var g errgroup.Group

	g.Go(func() error {
		deleted, err := c.purgeKV(ctx, scope)
		if err != nil {
			c.logger.Warn("KV purge incomplete", "scope", scope, "deleted", deleted, "error", err)
			return nil
		}
		c.logger.Debug("KV purge complete", "scope", scope, "deleted", deleted)
		return nil
	})

	g.Go(func() error {
		if err := c.index.DeleteScope(ctx, scope); err != nil {
			c.logger.Warn("vector purge failed", "scope", scope, "error", err)
		}
		return nil
	})

	// Workers swallow their own errors; Wait only synchronizes.
	_ = g.Wait()
}

func (c *SemanticCache) purgeKV(ctx context.Context, scope string) (int, error) {
	pattern := ScopePattern(scope)
	deleted := 0
	var cursor uint64

	for {
		keys, next, err := c.kv.Scan(ctx, cursor, pattern, scanBatch)
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := c.kv.Del(ctx, keys...); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// TTL returns the configured entry lifetime.
func (c *SemanticCache) TTL() time.Duration {
	return c.ttl
}
