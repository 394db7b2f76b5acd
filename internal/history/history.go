// Package history persists conversation turns in two stores with different
// jobs: a hot store (Redis list, low latency, size-bounded) that feeds
// recent context back into generation, and a cold store (PostgreSQL,
// durable, unbounded) that is the audit trail.
//
// Both stores are best-effort from the pipeline's point of view: the caller
// logs and ignores write failures, because the chat response has already
// been (or is being) streamed and must not be blocked or retried on
// persistence.
package history

import "time"

// Roles for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
