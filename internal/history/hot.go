package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultHotSize bounds how many recent turns the hot store keeps.
	DefaultHotSize = 50

	// DefaultHotTTL expires idle conversations from the hot store.
	DefaultHotTTL = 6 * time.Hour
)

// ListClient is the subset of go-redis list commands the hot store uses.
// *redis.Client satisfies it; tests substitute a mock.
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// HotStore keeps the most recent turns of each session in a Redis list,
// newest first, trimmed to a fixed size.
type HotStore struct {
	client  ListClient
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
}

// NewHotStore creates a HotStore. size <= 0 and ttl <= 0 select defaults.
func NewHotStore(client ListClient, size int, ttl time.Duration, logger *slog.Logger) *HotStore {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultHotSize
	}
	if ttl <= 0 {
		ttl = DefaultHotTTL
	}
	return &HotStore{client: client, maxSize: int64(size), ttl: ttl, logger: logger}
}

func hotKey(sessionID uuid.UUID) string {
	return "venn:history:" + sessionID.String()
}

// Push prepends a message to the session's list, trims to the size bound,
// and refreshes the idle TTL.
func (s *HotStore) Push(ctx context.Context, sessionID uuid.UUID, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	key := hotKey(sessionID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("pushing message: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, s.maxSize-1).Err(); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		// The list still works without a refreshed TTL.
		s.logger.Debug("refreshing hot history TTL failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// Recent returns the session's stored turns in chronological order
// (oldest first). Messages that fail to decode are skipped.
func (s *HotStore) Recent(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	raw, err := s.client.LRange(ctx, hotKey(sessionID), 0, s.maxSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading recent history: %w", err)
	}

	// The list is newest-first; reverse while decoding.
	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			s.logger.Warn("skipping malformed hot history entry", "session_id", sessionID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear drops the session's hot history.
func (s *HotStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.client.Del(ctx, hotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing hot history: %w", err)
	}
	return nil
}
