package pipeline

import (
	"context"
	"log/slog"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/metrics"
)

// StageCacheLookup is the step kind of the cache lookup stage.
const StageCacheLookup = "cache_lookup"

// CacheLookupStage resolves the question against the semantic cache before
// any model call. On a hit it replays the cached answer (sources, response
// text, visualization) and sets the stop flag so generation never runs.
//
// Every cache failure is a miss: the stage never returns an error.
type CacheLookupStage struct {
	minScore float64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCacheLookupStage creates the stage. minScore <= 0 selects the cache
// default similarity floor.
func NewCacheLookupStage(minScore float64, m *metrics.Metrics, logger *slog.Logger) *CacheLookupStage {
	if logger == nil {
		logger = slog.Default()
	}
	if minScore <= 0 {
		minScore = cache.DefaultMinScore
	}
	return &CacheLookupStage{minScore: minScore, metrics: m, logger: logger}
}

func (s *CacheLookupStage) Name() string    { return StageCacheLookup }
func (s *CacheLookupStage) AlwaysRun() bool { return false }

func (s *CacheLookupStage) Process(ctx context.Context, req *Request, emit EmitFunc) error {
	if req.Cache == nil {
		return nil
	}

	// Computed once here, reused by cache population after generation.
	req.Embedding = req.Cache.EmbedQuestion(ctx, req.Message)

	entry := req.Cache.Lookup(ctx, req.Message, req.Scope(), req.Embedding, s.minScore)
	if entry == nil {
		req.Timeline.SetCustomMetric("cache_hit", 0)
		s.metrics.RecordLookup(metrics.LookupMiss)
		return nil
	}

	req.FromCache = true
	req.Stop = true
	req.Sources = entry.Sources
	req.Rows = entry.Rows
	req.Visualization = entry.Visualization
	req.AppendResponse(entry.Response)
	req.Timeline.SetCustomMetric("cache_hit", 1)
	s.metrics.RecordLookup(metrics.LookupHit)

	if len(entry.Sources) > 0 {
		_ = emit(SourcesEvent(entry.Sources))
	}
	_ = emit(TokenEvent(entry.Response))
	if entry.Visualization != nil {
		_ = emit(VisualizationEvent(entry.Visualization))
	}

	s.logger.Info("answer served from cache",
		"session_id", req.SessionID,
		"scope", req.Scope(),
	)
	return nil
}
