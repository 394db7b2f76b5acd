// Package metrics exposes Prometheus collectors for the request pipeline.
// One Metrics instance is created at startup and shared by all requests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup result labels.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	CacheLookups  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Tokens        *prometheus.CounterVec
	Requests      *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer
// in production; a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venn",
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by result.",
		}, []string{"result"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "venn",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration by step kind.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venn",
			Name:      "tokens_total",
			Help:      "Model tokens consumed by direction.",
		}, []string{"direction"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venn",
			Name:      "chat_requests_total",
			Help:      "Chat requests by terminal outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(kind string, d time.Duration) {
	m.StageDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordLookup records one cache lookup result.
func (m *Metrics) RecordLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordTokens records token usage.
func (m *Metrics) RecordTokens(input, output int) {
	if input > 0 {
		m.Tokens.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.Tokens.WithLabelValues("output").Add(float64(output))
	}
}
