package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/chat"
	"github.com/venn0/venn/internal/history"
	"github.com/venn0/venn/internal/metrics"
	"github.com/venn0/venn/internal/timeline"
)

// StageGeneration is the step kind of the generation stage.
const StageGeneration = "generation"

// ModelCaller executes one streaming model call. *chat.Generator satisfies it.
type ModelCaller interface {
	Generate(ctx context.Context, recent []history.Message, question string, stream chat.StreamFunc) (*chat.Result, error)
}

// Retriever fetches grounding material for a question within a tenant scope.
// Implementations wrap the platform's vector/SQL backends; nil disables
// retrieval and the model answers from conversation context alone.
type Retriever interface {
	Retrieve(ctx context.Context, question, scope string) ([]cache.Source, []map[string]any, error)
}

// HistorySource supplies recent conversation turns. *history.HotStore
// satisfies it.
type HistorySource interface {
	Recent(ctx context.Context, sessionID uuid.UUID) ([]history.Message, error)
}

// GenerationStage retrieves grounding sources and streams a model response.
//
// Unlike the cache and persistence stages this one propagates errors: with
// no response produced there is nothing useful to stream, so the failure
// terminates the pipeline's normal stages with an error event.
type GenerationStage struct {
	model     ModelCaller
	retriever Retriever
	recent    HistorySource
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewGenerationStage creates the stage. retriever and recent may be nil.
func NewGenerationStage(model ModelCaller, retriever Retriever, recent HistorySource, m *metrics.Metrics, logger *slog.Logger) *GenerationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationStage{
		model:     model,
		retriever: retriever,
		recent:    recent,
		metrics:   m,
		logger:    logger,
	}
}

func (s *GenerationStage) Name() string    { return StageGeneration }
func (s *GenerationStage) AlwaysRun() bool { return false }

func (s *GenerationStage) Process(ctx context.Context, req *Request, emit EmitFunc) error {
	if s.retriever != nil {
		spanID := req.Timeline.StartSpan("retrieval", "retrieval", req.SpanID)
		sources, rows, err := s.retriever.Retrieve(ctx, req.Message, req.Scope())
		req.Timeline.EndSpan(spanID)
		if err != nil {
			// Retrieval is enrichment; generation proceeds ungrounded.
			s.logger.Warn("retrieval failed, generating without sources",
				"session_id", req.SessionID, "error", err)
		} else {
			req.Sources = sources
			req.Rows = rows
			if len(sources) > 0 {
				_ = emit(SourcesEvent(sources))
			}
		}
	}

	recent := s.recentHistory(ctx, req.SessionID)

	spanID := req.Timeline.StartSpan("model_call", "model_call", req.SpanID)
	result, err := s.model.Generate(ctx, recent, req.Message, func(ctx context.Context, text string) error {
		req.AppendResponse(text)
		return emit(TokenEvent(text))
	})
	if err != nil {
		req.Timeline.EndSpan(spanID)
		return fmt.Errorf("generation: %w", err)
	}
	req.Timeline.EndSpan(spanID, timeline.WithTokens(result.InputTokens, result.OutputTokens))

	// A provider that doesn't stream returns the full text only in the
	// final result.
	if req.ResponseText() == "" && result.Text != "" {
		req.AppendResponse(result.Text)
		_ = emit(TokenEvent(result.Text))
	}

	s.metrics.RecordTokens(result.InputTokens, result.OutputTokens)
	return nil
}

func (s *GenerationStage) recentHistory(ctx context.Context, sessionID uuid.UUID) []history.Message {
	if s.recent == nil {
		return nil
	}
	msgs, err := s.recent.Recent(ctx, sessionID)
	if err != nil {
		s.logger.Warn("recent history unavailable, generating without context",
			"session_id", sessionID, "error", err)
		return nil
	}
	return msgs
}
