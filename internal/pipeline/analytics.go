package pipeline

import (
	"context"
	"log/slog"

	"github.com/venn0/venn/internal/metrics"
)

// StageAnalytics is the step kind of the analytics stage.
const StageAnalytics = "analytics"

// AnalyticsStage exports the request timeline into Prometheus collectors and
// a structured summary log line. It always runs, so usage accounting happens
// no matter how the pipeline terminated, and it swallows everything.
type AnalyticsStage struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAnalyticsStage creates the stage.
func NewAnalyticsStage(m *metrics.Metrics, logger *slog.Logger) *AnalyticsStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsStage{metrics: m, logger: logger}
}

func (s *AnalyticsStage) Name() string    { return StageAnalytics }
func (s *AnalyticsStage) AlwaysRun() bool { return true }

func (s *AnalyticsStage) Process(_ context.Context, req *Request, _ EmitFunc) error {
	if req.Timeline == nil {
		return nil
	}

	report := req.Timeline.Export()
	for kind, d := range report.DurationByKind {
		s.metrics.ObserveStage(kind, d)
	}
	s.metrics.Requests.WithLabelValues(s.outcome(req)).Inc()

	tokens := req.Timeline.TotalTokens()
	s.logger.Info("request complete",
		"session_id", req.SessionID,
		"scope", req.Scope(),
		"outcome", s.outcome(req),
		"duration", req.Timeline.TotalDuration(),
		"input_tokens", tokens.Input,
		"output_tokens", tokens.Output,
		"steps", len(report.Roots),
	)
	return nil
}

func (s *AnalyticsStage) outcome(req *Request) string {
	switch {
	case req.FromCache:
		return "cache_hit"
	case req.ResponseText() != "":
		return "generated"
	default:
		return "failed"
	}
}
