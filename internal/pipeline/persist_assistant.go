package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/history"
)

// StageAssistantPersist is the step kind of the assistant persistence stage.
const StageAssistantPersist = "assistant_persist"

// populateTimeout bounds the detached cache population write.
const populateTimeout = 15 * time.Second

// AssistantPersistenceStage records the assistant's turn (with sources,
// visualization, and the step breakdown) in hot and cold storage, then
// populates the semantic cache with the new Q/A pair.
//
// The cache population is skipped when the response itself came from the
// cache: re-storing a served answer would let stale entries perpetuate
// indefinitely. It runs on a detached goroutine so the response stream is
// never blocked on cache writes.
//
// The stage only acts when response text exists, and never errors.
type AssistantPersistenceStage struct {
	hot    *history.HotStore
	cold   *history.ColdStore
	logger *slog.Logger

	syncPopulate bool
}

// AssistantPersistenceOption configures the stage.
type AssistantPersistenceOption func(*AssistantPersistenceStage)

// WithSynchronousCachePopulate makes the cache write happen inline instead
// of on a detached goroutine. Used by tests to observe the write.
func WithSynchronousCachePopulate() AssistantPersistenceOption {
	return func(s *AssistantPersistenceStage) { s.syncPopulate = true }
}

// NewAssistantPersistenceStage creates the stage. Either store may be nil.
func NewAssistantPersistenceStage(hot *history.HotStore, cold *history.ColdStore, logger *slog.Logger, opts ...AssistantPersistenceOption) *AssistantPersistenceStage {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AssistantPersistenceStage{hot: hot, cold: cold, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AssistantPersistenceStage) Name() string    { return StageAssistantPersist }
func (s *AssistantPersistenceStage) AlwaysRun() bool { return true }

func (s *AssistantPersistenceStage) Process(ctx context.Context, req *Request, _ EmitFunc) error {
	text := req.ResponseText()
	if text == "" {
		return nil
	}

	metadata := s.turnMetadata(req)

	if s.hot != nil {
		msg := history.Message{Role: history.RoleAssistant, Content: text, Metadata: metadata}
		if err := s.hot.Push(ctx, req.SessionID, msg); err != nil {
			s.logger.Warn("hot assistant message write failed",
				"session_id", req.SessionID, "error", err)
		}
	}

	if s.cold != nil {
		if err := s.cold.Add(ctx, req.SessionID, history.RoleAssistant, text, metadata); err != nil {
			s.logger.Warn("cold assistant message write failed",
				"session_id", req.SessionID, "error", err)
		}
	}

	if req.FromCache || req.Cache == nil {
		return nil
	}

	entry := cache.Entry{
		Response:      text,
		Sources:       req.Sources,
		Rows:          req.Rows,
		Visualization: req.Visualization,
	}
	if s.syncPopulate {
		req.Cache.Store(ctx, req.Message, req.Scope(), req.Embedding, entry)
		return nil
	}

	// Detach from the request: population must survive the response stream
	// closing, and must never delay it.
	go func(question, scope string, embedding []float32, entry cache.Entry) {
		popCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), populateTimeout)
		defer cancel()
		req.Cache.Store(popCtx, question, scope, embedding, entry)
	}(req.Message, req.Scope(), req.Embedding, entry)

	return nil
}

// turnMetadata assembles the metadata persisted with the assistant turn.
func (s *AssistantPersistenceStage) turnMetadata(req *Request) map[string]any {
	metadata := map[string]any{
		"from_cache": req.FromCache,
	}
	if len(req.Sources) > 0 {
		metadata["sources"] = req.Sources
	}
	if req.Visualization != nil {
		metadata["visualization"] = req.Visualization
	}
	if req.Timeline != nil {
		report := req.Timeline.Export()
		steps := make(map[string]float64, len(report.DurationByKind))
		for kind, d := range report.DurationByKind {
			steps[kind] = d.Seconds()
		}
		metadata["steps"] = steps
	}
	return metadata
}
