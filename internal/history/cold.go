package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the cold store needs.
// Consumer-defined so tests can substitute a mock.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ColdStore is the durable audit trail for conversation turns, backed by
// the messages table (see db/migrations).
type ColdStore struct {
	db     DB
	logger *slog.Logger
}

// NewColdStore creates a ColdStore over an existing connection pool.
func NewColdStore(db DB, logger *slog.Logger) *ColdStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColdStore{db: db, logger: logger}
}

// Add appends one turn to the session's durable history.
func (s *ColdStore) Add(ctx context.Context, sessionID uuid.UUID, role, content string, metadata map[string]any) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling message metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), sessionID, role, content, metadataJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetAll returns every turn of a session in insertion order.
func (s *ColdStore) GetAll(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT role, content, metadata, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			msg      Message
			metadata []byte
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				s.logger.Warn("skipping malformed message metadata", "session_id", sessionID, "error", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Purge removes turns older than the retention window. Returns the number
// of rows deleted.
func (s *ColdStore) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
