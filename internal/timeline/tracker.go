// Package timeline tracks hierarchical timing and token telemetry for one
// request. A Tracker collects flat spans while the pipeline runs and
// reconstructs the nested step tree at export time.
package timeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Tracker records spans for a single request.
//
// A Tracker belongs to exactly one request and is driven from that request's
// goroutine, so it does no locking. If a stage fans out into concurrent
// sub-work, each branch must obtain its span ID via StartSpan before the
// goroutines are spawned so sequence-at-start ordering stays correct.
type Tracker struct {
	logger *slog.Logger

	seq       int
	open      map[string]*Span
	completed []*Span

	totalTokens TokenCount
	custom      map[string]float64
}

// NewTracker creates a Tracker for one request.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger: logger,
		open:   make(map[string]*Span),
		custom: make(map[string]float64),
	}
}

// StartSpan allocates a new open span and returns its ID.
//
// parentID may be empty (root span), or reference an open or already-closed
// span. The parent is not checked for existence: a span whose parent never
// shows up in the completed list simply becomes a root in the exported tree.
func (t *Tracker) StartSpan(kind, label, parentID string) string {
	t.seq++
	s := &Span{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Kind:      kind,
		Label:     label,
		StartTime: time.Now(),
		Sequence:  t.seq,
	}
	t.open[s.ID] = s
	return s.ID
}

// EndSpan finalizes an open span, computing its duration and merging token
// counts into the request totals. Unknown IDs are a silent no-op returning
// nil; telemetry must never break the pipeline.
func (t *Tracker) EndSpan(id string, opts ...EndOption) *Span {
	s, ok := t.open[id]
	if !ok {
		t.logger.Debug("end of unknown span ignored", "span_id", id)
		return nil
	}
	delete(t.open, id)

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	for _, opt := range opts {
		opt(s)
	}
	t.finalize(s)
	return s
}

// RecordCompletedStep records work that was timed outside the tracker's own
// clock. The span start is back-dated to now-duration so it still sorts
// correctly against spans the tracker timed itself.
func (t *Tracker) RecordCompletedStep(kind, label string, duration time.Duration, opts ...EndOption) *Span {
	t.seq++
	end := time.Now()
	s := &Span{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		StartTime: end.Add(-duration),
		EndTime:   end,
		Duration:  duration,
		Sequence:  t.seq,
	}
	for _, opt := range opts {
		opt(s)
	}
	t.finalize(s)
	return s
}

func (t *Tracker) finalize(s *Span) {
	t.totalTokens.Input += s.InputTokens
	t.totalTokens.Output += s.OutputTokens
	t.completed = append(t.completed, s)
}

// TotalDuration returns the sum of all completed span durations.
func (t *Tracker) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range t.completed {
		total += s.Duration
	}
	return total
}

// TotalTokens returns the request-wide token totals.
func (t *Tracker) TotalTokens() TokenCount {
	return t.totalTokens
}

// SetCustomMetric records a named scalar metric alongside the timeline
// (e.g. cache_hit). Overwrites any previous value for the key.
func (t *Tracker) SetCustomMetric(key string, value float64) {
	t.custom[key] = value
}

// CustomMetric returns a previously recorded custom metric.
func (t *Tracker) CustomMetric(key string) (float64, bool) {
	v, ok := t.custom[key]
	return v, ok
}

// CustomMetrics returns a copy of all custom metrics.
func (t *Tracker) CustomMetrics() map[string]float64 {
	out := make(map[string]float64, len(t.custom))
	for k, v := range t.custom {
		out[k] = v
	}
	return out
}

// Export reconstructs the span forest from the flat completed list.
//
// Every completed span appears exactly once: under its parent when the
// parent is also in the completed list, otherwise as an additional root.
// Children (and roots) are sorted by sequence, i.e. by start order.
// Spans still open at export time are not included.
func (t *Tracker) Export() *Report {
	copies := make(map[string]*Span, len(t.completed))
	for _, s := range t.completed {
		c := *s
		c.Children = nil
		copies[s.ID] = &c
	}

	report := &Report{
		DurationByKind: make(map[string]time.Duration),
		TokensByKind:   make(map[string]TokenCount),
	}

	for _, s := range t.completed {
		c := copies[s.ID]

		report.DurationByKind[c.Kind] += c.Duration
		tk := report.TokensByKind[c.Kind]
		tk.Input += c.InputTokens
		tk.Output += c.OutputTokens
		report.TokensByKind[c.Kind] = tk

		if parent, ok := copies[c.ParentID]; ok && c.ParentID != "" {
			parent.Children = append(parent.Children, c)
		} else {
			report.Roots = append(report.Roots, c)
		}
	}

	sortBySequence(report.Roots)
	for _, c := range copies {
		sortBySequence(c.Children)
	}
	return report
}

func sortBySequence(spans []*Span) {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Sequence < spans[j].Sequence
	})
}
