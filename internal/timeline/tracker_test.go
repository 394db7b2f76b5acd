package timeline

import (
	"testing"
	"time"

	"github.com/venn0/venn/internal/log"
)

// ============================================================================
// Sequence ordering
// ============================================================================

func TestStartSpan_SequenceStrictlyIncreasing(t *testing.T) {
	tr := NewTracker(log.NewNop())

	ids := []string{
		tr.StartSpan("cache_lookup", "lookup", ""),
		tr.StartSpan("embedding", "embed", ""),
	}
	tr.RecordCompletedStep("guard", "guard check", 5*time.Millisecond)
	ids = append(ids, tr.StartSpan("generation", "generate", ""))

	for _, id := range ids {
		tr.EndSpan(id)
	}

	report := tr.Export()
	last := 0
	count := 0
	var walk func(spans []*Span)
	walk = func(spans []*Span) {
		for _, s := range spans {
			count++
			if s.Sequence <= 0 {
				t.Errorf("span %s has non-positive sequence %d", s.Kind, s.Sequence)
			}
			walk(s.Children)
		}
	}
	walk(report.Roots)
	if count != 4 {
		t.Fatalf("exported %d spans, want 4", count)
	}
	// Roots are sorted by sequence.
	for _, s := range report.Roots {
		if s.Sequence <= last {
			t.Errorf("root sequence %d not increasing after %d", s.Sequence, last)
		}
		last = s.Sequence
	}
}

func TestStartSpan_ParentSequenceLowerThanDescendants(t *testing.T) {
	tr := NewTracker(log.NewNop())

	parent := tr.StartSpan("generation", "generate", "")
	child := tr.StartSpan("llm_call", "model call", parent)
	grandchild := tr.StartSpan("retry", "attempt 2", child)

	tr.EndSpan(grandchild)
	tr.EndSpan(child)
	tr.EndSpan(parent)

	report := tr.Export()
	if len(report.Roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(report.Roots))
	}
	root := report.Roots[0]
	var check func(p *Span)
	check = func(p *Span) {
		for _, c := range p.Children {
			if c.Sequence <= p.Sequence {
				t.Errorf("child %q sequence %d not greater than parent %q sequence %d",
					c.Kind, c.Sequence, p.Kind, p.Sequence)
			}
			check(c)
		}
	}
	check(root)
}

// ============================================================================
// EndSpan behavior
// ============================================================================

func TestEndSpan_UnknownIDIsNoOp(t *testing.T) {
	tr := NewTracker(log.NewNop())

	if s := tr.EndSpan("no-such-span"); s != nil {
		t.Fatalf("EndSpan on unknown id returned %+v, want nil", s)
	}
	if got := len(tr.Export().Roots); got != 0 {
		t.Fatalf("exported %d spans, want 0", got)
	}
}

func TestEndSpan_DoubleEndIsNoOp(t *testing.T) {
	tr := NewTracker(log.NewNop())

	id := tr.StartSpan("cache_lookup", "lookup", "")
	if s := tr.EndSpan(id); s == nil {
		t.Fatal("first EndSpan returned nil")
	}
	if s := tr.EndSpan(id); s != nil {
		t.Fatalf("second EndSpan returned %+v, want nil", s)
	}
	if got := len(tr.Export().Roots); got != 1 {
		t.Fatalf("exported %d spans, want 1", got)
	}
}

func TestEndSpan_TokensAndMetadata(t *testing.T) {
	tr := NewTracker(log.NewNop())

	id := tr.StartSpan("generation", "generate", "")
	s := tr.EndSpan(id,
		WithTokens(120, 340),
		WithMetadata(map[string]any{"model": "gemini-2.5-flash"}),
	)

	if s.InputTokens != 120 || s.OutputTokens != 340 {
		t.Errorf("tokens = (%d,%d), want (120,340)", s.InputTokens, s.OutputTokens)
	}
	if s.Metadata["model"] != "gemini-2.5-flash" {
		t.Errorf("metadata not merged: %+v", s.Metadata)
	}
	if tot := tr.TotalTokens(); tot.Input != 120 || tot.Output != 340 {
		t.Errorf("total tokens = %+v, want {120 340}", tot)
	}
}

// ============================================================================
// RecordCompletedStep
// ============================================================================

func TestRecordCompletedStep_BackdatesStart(t *testing.T) {
	tr := NewTracker(log.NewNop())

	d := 250 * time.Millisecond
	s := tr.RecordCompletedStep("sql_query", "warehouse query", d)

	if s.Duration != d {
		t.Errorf("duration = %v, want %v", s.Duration, d)
	}
	if got := s.EndTime.Sub(s.StartTime); got != d {
		t.Errorf("end-start = %v, want %v", got, d)
	}
}

// ============================================================================
// Export
// ============================================================================

func TestExport_OrphanParentBecomesRoot(t *testing.T) {
	tr := NewTracker(log.NewNop())

	a := tr.StartSpan("generation", "generate", "")
	// Parent reference to a span that is never completed.
	b := tr.StartSpan("llm_call", "model call", "missing-parent")
	tr.EndSpan(b)
	tr.EndSpan(a)

	report := tr.Export()
	if len(report.Roots) != 2 {
		t.Fatalf("got %d roots, want 2 (orphan promoted to root)", len(report.Roots))
	}

	seen := map[string]int{}
	var walk func(spans []*Span)
	walk = func(spans []*Span) {
		for _, s := range spans {
			seen[s.ID]++
			walk(s.Children)
		}
	}
	walk(report.Roots)
	if len(seen) != 2 {
		t.Fatalf("forest contains %d unique spans, want 2", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("span %s appears %d times, want exactly once", id, n)
		}
	}
}

func TestExport_OpenSpansExcluded(t *testing.T) {
	tr := NewTracker(log.NewNop())

	done := tr.StartSpan("cache_lookup", "lookup", "")
	tr.StartSpan("generation", "still running", "")
	tr.EndSpan(done)

	report := tr.Export()
	if len(report.Roots) != 1 {
		t.Fatalf("got %d roots, want 1 (open span must not export)", len(report.Roots))
	}
	if report.Roots[0].Kind != "cache_lookup" {
		t.Errorf("exported kind = %q, want cache_lookup", report.Roots[0].Kind)
	}
}

func TestExport_FlatProjections(t *testing.T) {
	tr := NewTracker(log.NewNop())

	a := tr.StartSpan("llm_call", "first", "")
	tr.EndSpan(a, WithTokens(100, 50))
	tr.RecordCompletedStep("llm_call", "second", 30*time.Millisecond, WithTokens(10, 20))
	tr.RecordCompletedStep("cache_lookup", "lookup", 4*time.Millisecond)

	report := tr.Export()

	if got := report.TokensByKind["llm_call"]; got.Input != 110 || got.Output != 70 {
		t.Errorf("llm_call tokens = %+v, want {110 70}", got)
	}
	if report.DurationByKind["cache_lookup"] != 4*time.Millisecond {
		t.Errorf("cache_lookup duration = %v, want 4ms", report.DurationByKind["cache_lookup"])
	}
	if report.DurationByKind["llm_call"] < 30*time.Millisecond {
		t.Errorf("llm_call duration = %v, want >= 30ms", report.DurationByKind["llm_call"])
	}
}

func TestExport_DoesNotMutateTrackerState(t *testing.T) {
	tr := NewTracker(log.NewNop())

	id := tr.StartSpan("cache_lookup", "lookup", "")
	tr.EndSpan(id)

	first := tr.Export()
	first.Roots[0].Kind = "tampered"
	first.Roots[0].Children = append(first.Roots[0].Children, &Span{Kind: "fake"})

	second := tr.Export()
	if second.Roots[0].Kind != "cache_lookup" {
		t.Errorf("export returned shared span state: kind = %q", second.Roots[0].Kind)
	}
	if len(second.Roots[0].Children) != 0 {
		t.Errorf("export returned shared children slice")
	}
}

// ============================================================================
// Custom metrics
// ============================================================================

func TestCustomMetrics(t *testing.T) {
	tr := NewTracker(log.NewNop())

	tr.SetCustomMetric("cache_hit", 1)
	tr.SetCustomMetric("cache_hit", 0) // overwrite

	v, ok := tr.CustomMetric("cache_hit")
	if !ok || v != 0 {
		t.Errorf("CustomMetric(cache_hit) = (%v,%v), want (0,true)", v, ok)
	}
	if _, ok := tr.CustomMetric("absent"); ok {
		t.Error("CustomMetric(absent) reported ok")
	}
}
