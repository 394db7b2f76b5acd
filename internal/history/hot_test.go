package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/venn0/venn/internal/log"
)

// ============================================================================
// Mock implementations
// ============================================================================

// mockListClient implements ListClient backed by an in-memory list.
type mockListClient struct {
	lists map[string][]string

	pushErr   error
	rangeErr  error
	trimCalls int
	lastTrim  int64
}

func newMockListClient() *mockListClient {
	return &mockListClient{lists: make(map[string][]string)}
}

func (m *mockListClient) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if m.pushErr != nil {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(m.pushErr)
		return cmd
	}
	for _, v := range values {
		m.lists[key] = append([]string{string(v.([]byte))}, m.lists[key]...)
	}
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func (m *mockListClient) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	m.trimCalls++
	m.lastTrim = stop
	if l := m.lists[key]; int64(len(l)) > stop+1 {
		m.lists[key] = l[:stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *mockListClient) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	if m.rangeErr != nil {
		cmd := redis.NewStringSliceCmd(ctx)
		cmd.SetErr(m.rangeErr)
		return cmd
	}
	return redis.NewStringSliceResult(m.lists[key], nil)
}

func (m *mockListClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (m *mockListClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(m.lists, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// ============================================================================
// HotStore
// ============================================================================

func TestHotStore_PushAndRecentRoundTrip(t *testing.T) {
	client := newMockListClient()
	store := NewHotStore(client, 10, time.Hour, log.NewNop())
	sessionID := uuid.New()

	turns := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, Content: "what's the refund policy?"},
	}
	for _, msg := range turns {
		if err := store.Push(context.Background(), sessionID, msg); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	got, err := store.Recent(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	// Chronological order: oldest first.
	for i, want := range turns {
		if got[i].Content != want.Content || got[i].Role != want.Role {
			t.Errorf("message %d = %q/%q, want %q/%q", i, got[i].Role, got[i].Content, want.Role, want.Content)
		}
	}
}

func TestHotStore_SizeBound(t *testing.T) {
	client := newMockListClient()
	store := NewHotStore(client, 2, time.Hour, log.NewNop())
	sessionID := uuid.New()

	for _, content := range []string{"one", "two", "three"} {
		if err := store.Push(context.Background(), sessionID, Message{Role: RoleUser, Content: content}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	got, err := store.Recent(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2 (size bound)", len(got))
	}
	if got[0].Content != "two" || got[1].Content != "three" {
		t.Errorf("kept %q,%q; want the two newest turns", got[0].Content, got[1].Content)
	}
}

func TestHotStore_PushError(t *testing.T) {
	client := newMockListClient()
	client.pushErr = errors.New("redis down")
	store := NewHotStore(client, 10, time.Hour, log.NewNop())

	if err := store.Push(context.Background(), uuid.New(), Message{Role: RoleUser, Content: "x"}); err == nil {
		t.Fatal("expected error when redis push fails")
	}
}

func TestHotStore_RecentSkipsMalformedEntries(t *testing.T) {
	client := newMockListClient()
	store := NewHotStore(client, 10, time.Hour, log.NewNop())
	sessionID := uuid.New()

	if err := store.Push(context.Background(), sessionID, Message{Role: RoleUser, Content: "good"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// Corrupt entry injected alongside a valid one.
	key := hotKey(sessionID)
	client.lists[key] = append([]string{"{broken"}, client.lists[key]...)

	got, err := store.Recent(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Content != "good" {
		t.Errorf("got %+v, want only the well-formed message", got)
	}
}

func TestHotStore_Clear(t *testing.T) {
	client := newMockListClient()
	store := NewHotStore(client, 10, time.Hour, log.NewNop())
	sessionID := uuid.New()

	_ = store.Push(context.Background(), sessionID, Message{Role: RoleUser, Content: "x"})
	if err := store.Clear(context.Background(), sessionID); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := store.Recent(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(got))
	}
}

func TestHotStore_MessageTimestampDefaulted(t *testing.T) {
	client := newMockListClient()
	store := NewHotStore(client, 10, time.Hour, log.NewNop())
	sessionID := uuid.New()

	if err := store.Push(context.Background(), sessionID, Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	var stored Message
	if err := json.Unmarshal([]byte(client.lists[hotKey(sessionID)][0]), &stored); err != nil {
		t.Fatalf("unmarshal stored message: %v", err)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted on push")
	}
}
