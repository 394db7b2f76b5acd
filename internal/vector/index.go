// Package vector implements the semantic cache's nearest-neighbor tier on
// PostgreSQL + pgvector.
//
// Points live in the cache_points table (see db/migrations) with a cosine
// index. Scope filtering happens in SQL, so no query can read across tenant
// scopes regardless of what the caller passes.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/venn0/venn/internal/cache"
)

// DB is the subset of pgxpool.Pool the index needs. Defined here, by the
// consumer, so tests can substitute a mock.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Index is the pgvector-backed cache.VectorIndex implementation.
// Safe for concurrent use; the pool handles connection management.
type Index struct {
	db     DB
	logger *slog.Logger
}

// New creates an Index over an existing connection pool.
func New(db DB, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: db, logger: logger}
}

// Query returns up to limit points in scope whose cosine similarity to
// embedding is at least minScore, best first.
func (ix *Index) Query(ctx context.Context, scope string, embedding []float32, minScore float64, limit int) ([]cache.Hit, error) {
	vec := pgvector.NewVector(embedding)

	// 1 - cosine distance = cosine similarity.
	rows, err := ix.db.Query(ctx, `
		SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM cache_points
		WHERE scope = $2
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		vec, scope, minScore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var hits []cache.Hit
	for rows.Next() {
		var (
			hit     cache.Hit
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &payload, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning vector hit: %w", err)
		}
		if err := json.Unmarshal(payload, &hit.Payload); err != nil {
			// Permissive payload policy: skip what we cannot decode.
			ix.logger.Warn("skipping point with malformed payload", "point_id", hit.ID, "error", err)
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector hits: %w", err)
	}
	return hits, nil
}

// Upsert writes a point, replacing any existing point with the same ID.
// The deterministic point ID makes repeated writes for the same question
// overwrite instead of accumulate.
func (ix *Index) Upsert(ctx context.Context, point cache.Point) error {
	payload, err := json.Marshal(point.Payload)
	if err != nil {
		return fmt.Errorf("marshaling point payload: %w", err)
	}

	vec := pgvector.NewVector(point.Embedding)
	_, err = ix.db.Exec(ctx, `
		INSERT INTO cache_points (id, scope, embedding, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET scope = EXCLUDED.scope,
		    embedding = EXCLUDED.embedding,
		    payload = EXCLUDED.payload`,
		point.ID, point.Scope, vec, payload,
	)
	if err != nil {
		return fmt.Errorf("upserting point %q: %w", point.ID, err)
	}
	return nil
}

// DeleteScope removes every point tagged with scope.
func (ix *Index) DeleteScope(ctx context.Context, scope string) error {
	tag, err := ix.db.Exec(ctx, `DELETE FROM cache_points WHERE scope = $1`, scope)
	if err != nil {
		return fmt.Errorf("deleting scope %q: %w", scope, err)
	}
	ix.logger.Debug("deleted scope points", "scope", scope, "count", tag.RowsAffected())
	return nil
}
