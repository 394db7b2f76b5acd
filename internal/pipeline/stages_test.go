package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/chat"
	"github.com/venn0/venn/internal/history"
	"github.com/venn0/venn/internal/log"
	"github.com/venn0/venn/internal/metrics"
	"github.com/venn0/venn/internal/timeline"
)

// ============================================================
// Cache tier doubles
// ============================================================

type memKV struct {
	data   map[string]string
	getErr error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) SetEx(_ context.Context, key string, _ time.Duration, value string) error {
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, 0, nil
}

type memIndex struct {
	points     map[string]cache.Point
	score      float64 // similarity reported for every non-identical query
	queryCalls int
}

func newMemIndex(score float64) *memIndex {
	return &memIndex{points: make(map[string]cache.Point), score: score}
}

func (m *memIndex) Query(_ context.Context, scope string, _ []float32, minScore float64, limit int) ([]cache.Hit, error) {
	m.queryCalls++
	var hits []cache.Hit
	for _, p := range m.points {
		if p.Scope != scope || m.score < minScore {
			continue
		}
		hits = append(hits, cache.Hit{ID: p.ID, Score: m.score, Payload: p.Payload})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (m *memIndex) Upsert(_ context.Context, point cache.Point) error {
	m.points[point.ID] = point
	return nil
}

func (m *memIndex) DeleteScope(_ context.Context, scope string) error {
	for id, p := range m.points {
		if p.Scope == scope {
			delete(m.points, id)
		}
	}
	return nil
}

type memEmbedder struct{ vec []float32 }

func (m *memEmbedder) Embed(context.Context, string) ([]float32, error) {
	return m.vec, nil
}

// ============================================================
// Generation and persistence doubles
// ============================================================

type fakeModel struct {
	text  string
	err   error
	calls int
}

func (m *fakeModel) Generate(ctx context.Context, _ []history.Message, _ string, stream chat.StreamFunc) (*chat.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if stream != nil {
		if err := stream(ctx, m.text); err != nil {
			return nil, err
		}
	}
	return &chat.Result{Text: m.text, InputTokens: 10, OutputTokens: 5}, nil
}

type fakeDB struct {
	inserts int
	execErr error
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if strings.Contains(sql, "INSERT INTO messages") {
		f.inserts++
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// ============================================================
// Wiring helpers
// ============================================================

type fixture struct {
	kv    *memKV
	index *memIndex
	cache *cache.SemanticCache
	model *fakeModel
	db    *fakeDB
	cold  *history.ColdStore
	o     *Orchestrator
}

func newFixture(t *testing.T, indexScore float64) *fixture {
	t.Helper()
	logger := log.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	f := &fixture{
		kv:    newMemKV(),
		index: newMemIndex(indexScore),
		model: &fakeModel{text: "Our refund policy lasts 30 days."},
		db:    &fakeDB{},
	}
	f.cache = cache.New(f.kv, f.index, &memEmbedder{vec: []float32{0.1, 0.2, 0.3}}, time.Hour, logger)
	f.cold = history.NewColdStore(f.db, logger)

	f.o = NewOrchestrator(logger, []Stage{
		NewCacheLookupStage(0, m, logger),
		NewUserPersistenceStage(nil, f.cold, logger),
		NewGenerationStage(f.model, nil, nil, m, logger),
		NewVisualizationStage(logger),
		NewAssistantPersistenceStage(nil, f.cold, logger, WithSynchronousCachePopulate()),
		NewAnalyticsStage(m, logger),
	})
	return f
}

func (f *fixture) ask(t *testing.T, ctx context.Context, question string) *recorder {
	t.Helper()
	req := NewRequest(question, uuid.New(), "user-1", "assistant-1", "en",
		timeline.NewTracker(log.NewNop()), f.cache)
	rec := &recorder{}
	if err := f.o.Run(ctx, req, rec.emit); err != nil {
		t.Fatalf("Run(%q) error = %v", question, err)
	}
	return rec
}

// ============================================================
// End-to-end scenarios
// ============================================================

func TestRepeatedQuestionShortCircuitsGeneration(t *testing.T) {
	f := newFixture(t, 0) // vector tier never matches; exact tier only
	ctx := context.Background()

	f.ask(t, ctx, "What is the refund policy?")
	if f.model.calls != 1 {
		t.Fatalf("first ask: model calls = %d, want 1", f.model.calls)
	}

	// Same question modulo whitespace and case hits the exact key.
	rec := f.ask(t, ctx, "  what is   the refund POLICY? ")
	if f.model.calls != 1 {
		t.Errorf("second ask hit the model (%d calls), want cached answer", f.model.calls)
	}
	if got := rec.steps(StageGeneration); len(got) != 0 {
		t.Errorf("second ask emitted %d generation step events, want 0", len(got))
	}
	tokens := rec.ofType(EventToken)
	if len(tokens) != 1 || tokens[0].Content != f.model.text {
		t.Errorf("cached token events = %+v, want the original answer", tokens)
	}
}

func TestParaphraseHitsSemanticTier(t *testing.T) {
	f := newFixture(t, 0.93)
	ctx := context.Background()

	// Seed through the real write path, with sources attached.
	seeded := cache.Entry{
		Response: "Refunds are accepted within 30 days.",
		Sources:  []cache.Source{{ID: "doc-1", Name: "policy.pdf", Type: "document", Score: 0.8}},
	}
	f.cache.Store(ctx, "What is the refund policy?", "assistant-1", []float32{0.1, 0.2, 0.3}, seeded)

	rec := f.ask(t, ctx, "refund policy, what is it?")
	if f.model.calls != 0 {
		t.Errorf("paraphrase hit the model (%d calls), want semantic cache hit", f.model.calls)
	}
	srcEvents := rec.ofType(EventSources)
	if len(srcEvents) != 1 {
		t.Fatalf("got %d sources events, want 1", len(srcEvents))
	}
	sources, ok := srcEvents[0].Data.([]cache.Source)
	if !ok || len(sources) != 1 || sources[0].ID != "doc-1" {
		t.Errorf("restored sources = %+v, want the seeded source", srcEvents[0].Data)
	}
}

func TestBelowMinScoreIsMiss(t *testing.T) {
	f := newFixture(t, 0.89) // just under the 0.90 default floor
	ctx := context.Background()

	seeded := cache.Entry{Response: "Refunds are accepted within 30 days."}
	f.cache.Store(ctx, "What is the refund policy?", "assistant-1", []float32{0.1, 0.2, 0.3}, seeded)

	f.ask(t, ctx, "refund policy, what is it?")
	if f.model.calls != 1 {
		t.Errorf("model calls = %d, want 1 (below-threshold neighbor must not hit)", f.model.calls)
	}
}

func TestKVErrorDegradesToGeneration(t *testing.T) {
	f := newFixture(t, 0)
	f.kv.getErr = errors.New("connection refused")

	rec := f.ask(t, context.Background(), "What is the refund policy?")
	if f.model.calls != 1 {
		t.Errorf("model calls = %d, want 1 (KV outage degrades to uncached)", f.model.calls)
	}
	if got := rec.ofType(EventError); len(got) != 0 {
		t.Errorf("KV outage surfaced %d error events to the user, want 0", len(got))
	}
}

func TestDisconnectStillPersistsBothTurns(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	req := NewRequest("What is the refund policy?", uuid.New(), "user-1", "assistant-1", "en",
		timeline.NewTracker(log.NewNop()), f.cache)
	rec := &recorder{}

	o := NewOrchestrator(log.NewNop(), []Stage{
		NewUserPersistenceStage(nil, f.cold, log.NewNop()),
		&stubStage{name: StageGeneration, fn: func(_ context.Context, req *Request, emit EmitFunc) error {
			req.AppendResponse("partial answer")
			_ = emit(TokenEvent("partial answer"))
			cancel()
			return nil
		}},
		NewVisualizationStage(log.NewNop()),
		NewAssistantPersistenceStage(nil, f.cold, log.NewNop(), WithSynchronousCachePopulate()),
		NewAnalyticsStage(metrics.New(prometheus.NewRegistry()), log.NewNop()),
	}, WithAlwaysRunTimeout(time.Second))

	if err := o.Run(ctx, req, rec.emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.db.inserts != 2 {
		t.Errorf("cold store inserts = %d, want 2 (user and assistant turns)", f.db.inserts)
	}
}

func TestCacheHitNeverRepopulatesCache(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.ask(t, ctx, "What is the refund policy?")
	pointsAfterFirst := len(f.index.points)
	entriesAfterFirst := len(f.kv.data)

	// Second ask is a cache hit; the persistence stage must not write the
	// served answer back into either tier.
	f.ask(t, ctx, "What is the refund policy?")
	if len(f.index.points) != pointsAfterFirst || len(f.kv.data) != entriesAfterFirst {
		t.Errorf("cache grew after a cache hit: points %d->%d, entries %d->%d",
			pointsAfterFirst, len(f.index.points), entriesAfterFirst, len(f.kv.data))
	}
}

func TestGenerationPopulatesCacheForNextAsk(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.ask(t, ctx, "What is the refund policy?")
	if len(f.kv.data) != 1 {
		t.Fatalf("KV entries after generation = %d, want 1", len(f.kv.data))
	}
	if len(f.index.points) != 1 {
		t.Fatalf("vector points after generation = %d, want 1", len(f.index.points))
	}

	key := cache.DeriveExactKey("What is the refund policy?", "assistant-1")
	if _, ok := f.kv.data[key]; !ok {
		t.Errorf("populated entry not under the derived exact key")
	}
}

func TestGenerationFailureEmitsErrorAndStillPersistsUserTurn(t *testing.T) {
	f := newFixture(t, 0)
	f.model.err = errors.New("provider exploded")

	req := NewRequest("What is the refund policy?", uuid.New(), "user-1", "assistant-1", "en",
		timeline.NewTracker(log.NewNop()), f.cache)
	rec := &recorder{}
	err := f.o.Run(context.Background(), req, rec.emit)
	if err == nil {
		t.Fatal("Run() returned nil, want the generation error")
	}
	if got := rec.ofType(EventError); len(got) != 1 {
		t.Errorf("got %d error events, want 1", len(got))
	}
	if f.db.inserts != 1 {
		t.Errorf("cold store inserts = %d, want 1 (user turn only)", f.db.inserts)
	}
	if len(f.kv.data) != 0 {
		t.Errorf("cache populated despite generation failure")
	}
}

// ============================================================
// Visualization
// ============================================================

func TestBuildChart(t *testing.T) {
	tests := []struct {
		name string
		rows []map[string]any
		want bool
	}{
		{
			name: "string plus numeric column",
			rows: []map[string]any{
				{"region": "north", "revenue": 120.5},
				{"region": "south", "revenue": 98.0},
			},
			want: true,
		},
		{
			name: "integer values",
			rows: []map[string]any{{"city": "Taipei", "count": 7}},
			want: true,
		},
		{
			name: "no numeric column",
			rows: []map[string]any{{"a": "x", "b": "y"}},
			want: false,
		},
		{
			name: "no string column",
			rows: []map[string]any{{"a": 1, "b": 2}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildChart(tt.rows)
			if (got != nil) != tt.want {
				t.Errorf("buildChart() = %v, want chart=%v", got, tt.want)
			}
			if got != nil {
				labels := got["labels"].([]string)
				values := got["values"].([]float64)
				if len(labels) != len(values) || len(labels) != len(tt.rows) {
					t.Errorf("chart has %d labels / %d values for %d rows",
						len(labels), len(values), len(tt.rows))
				}
			}
		})
	}
}

func TestVisualizationStageEmitsChart(t *testing.T) {
	req := newTestRequest()
	req.Rows = []map[string]any{
		{"region": "north", "revenue": 120.5},
		{"region": "south", "revenue": 98.0},
	}

	rec := &recorder{}
	stage := NewVisualizationStage(log.NewNop())
	if err := stage.Process(context.Background(), req, rec.emit); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if req.Visualization == nil {
		t.Fatal("request visualization not set")
	}
	if got := rec.ofType(EventVisualization); len(got) != 1 {
		t.Errorf("got %d visualization events, want 1", len(got))
	}
}
