package cache

import (
	"context"
	"time"
)

// Source is one retrieval source attached to an answer. It is stored
// verbatim in the cached payload so a cache hit can restore the sources
// the original answer cited.
type Source struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Entry is a cached question/answer pair.
//
// ExactKey and Scope are written into both tiers; the vector point carries
// them in its payload so a semantic hit can be resolved back to the KV
// entry and re-validated against the requesting tenant.
type Entry struct {
	ExactKey      string           `json:"exact_key"`
	Scope         string           `json:"scope"`
	Question      string           `json:"question"`
	Response      string           `json:"response"`
	Sources       []Source         `json:"sources,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
	Visualization map[string]any   `json:"visualization,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Hit is one nearest-neighbor result from the vector index.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Point is one vector index entry.
type Point struct {
	ID        string
	Scope     string
	Embedding []float32
	Payload   map[string]any
}

// KV is the exact-match cache tier. Implementations must be safe for
// concurrent use (the Redis client pools connections internally).
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetEx stores value under key with a TTL.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Scan iterates keys matching a glob pattern, cursor-based.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)
}

// VectorIndex is the nearest-neighbor cache tier.
type VectorIndex interface {
	// Query returns up to limit neighbors within scope scoring at or above
	// minScore, best first.
	Query(ctx context.Context, scope string, embedding []float32, minScore float64, limit int) ([]Hit, error)

	// Upsert writes a point; an existing point with the same ID is replaced.
	Upsert(ctx context.Context, point Point) error

	// DeleteScope removes every point tagged with scope.
	DeleteScope(ctx context.Context, scope string) error
}

// Embedder produces the question embedding used for semantic lookup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
