package pipeline

import (
	"strings"

	"github.com/google/uuid"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/timeline"
)

// Request is the shared mutable state threaded through the pipeline.
//
// A Request is exclusively owned by one HTTP request and driven from that
// request's goroutine; stages read and mutate it in place without locking.
// Nothing in it outlives the request except values explicitly copied into
// the cache or persistence layers.
type Request struct {
	Message     string
	SessionID   uuid.UUID
	UserID      string
	AssistantID string
	Language    string

	Timeline *timeline.Tracker
	Cache    *cache.SemanticCache

	// Embedding is the question embedding, computed once by the cache
	// lookup stage and reused by later stages.
	Embedding []float32

	// Accumulated outputs.
	Sources       []cache.Source
	Rows          []map[string]any
	Visualization map[string]any

	// Stop short-circuits all remaining non-always-run stages.
	Stop bool

	// FromCache marks the response as served from the semantic cache.
	// The assistant persistence stage never re-populates the cache from
	// a response that was itself a cache hit.
	FromCache bool

	// SpanID is the timeline span of the stage currently executing, set
	// by the orchestrator. Stages use it as the parent for sub-spans.
	SpanID string

	// Values carries intermediate results that don't warrant a field.
	Values map[string]any

	response strings.Builder
}

// NewRequest creates the per-request context.
func NewRequest(message string, sessionID uuid.UUID, userID, assistantID, language string, tracker *timeline.Tracker, c *cache.SemanticCache) *Request {
	return &Request{
		Message:     message,
		SessionID:   sessionID,
		UserID:      userID,
		AssistantID: assistantID,
		Language:    language,
		Timeline:    tracker,
		Cache:       c,
		Values:      make(map[string]any),
	}
}

// Scope returns the tenant scope for cache reads and writes. Every cache
// path keys on it, so answers never leak across assistants.
func (r *Request) Scope() string {
	return r.AssistantID
}

// AppendResponse accumulates streamed response text.
func (r *Request) AppendResponse(text string) {
	r.response.WriteString(text)
}

// ResponseText returns the response accumulated so far.
func (r *Request) ResponseText() string {
	return r.response.String()
}
