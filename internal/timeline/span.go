package timeline

import "time"

// Span is one measured unit of pipeline work.
//
// Sequence is assigned when the span starts, from a counter that only
// moves forward. Because a parent must start before any of its children,
// a parent's sequence is always lower than every descendant's, and sorting
// by sequence reproduces start order.
//
// Once a span has been finalized (EndSpan or RecordCompletedStep) it is
// immutable; Export returns copies, so callers can never mutate tracker state.
type Span struct {
	ID           string         `json:"id"`
	ParentID     string         `json:"parent_id,omitempty"`
	Kind         string         `json:"kind"`
	Label        string         `json:"label,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Duration     time.Duration  `json:"duration"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	Sequence     int            `json:"sequence"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// Children is populated only by Export.
	Children []*Span `json:"children,omitempty"`
}

// TokenCount is a pair of input/output token totals.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Report is the exported view of a request's timeline: the reconstructed
// span forest plus two flat projections kept for analytics consumers that
// only understand per-kind totals.
type Report struct {
	Roots          []*Span                  `json:"steps"`
	DurationByKind map[string]time.Duration `json:"duration_by_kind"`
	TokensByKind   map[string]TokenCount    `json:"tokens_by_kind"`
}

// EndOption mutates a span as it is finalized.
type EndOption func(*Span)

// WithMetadata merges key/value pairs into the span metadata.
func WithMetadata(md map[string]any) EndOption {
	return func(s *Span) {
		if len(md) == 0 {
			return
		}
		if s.Metadata == nil {
			s.Metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			s.Metadata[k] = v
		}
	}
}

// WithTokens records token usage on the span.
func WithTokens(input, output int) EndOption {
	return func(s *Span) {
		s.InputTokens = input
		s.OutputTokens = output
	}
}
