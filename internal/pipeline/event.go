// Package pipeline composes the request-serving stages: an ordered list of
// Stage implementations sharing one Request, streaming heterogeneous events
// (step status, sources, tokens, visualizations, errors) to the caller in
// strict stage order.
package pipeline

import (
	"time"

	"github.com/venn0/venn/internal/cache"
)

// Event types on the wire. One JSON object per line (NDJSON).
const (
	EventStep          = "step"
	EventSources       = "sources"
	EventToken         = "token"
	EventVisualization = "visualization"
	EventError         = "error"
)

// Step statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is the union of everything the pipeline can stream to a client.
// Only the fields for the given Type are populated; the rest are omitted.
type Event struct {
	Type string `json:"type"`

	// step
	StepType string         `json:"step_type,omitempty"`
	Status   string         `json:"status,omitempty"`
	Duration float64        `json:"duration,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`

	// sources / visualization
	Data any `json:"data,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// EmitFunc delivers one event to the consumer. The pipeline calls it
// synchronously, so the producer can never race ahead of what the consumer
// has flushed. Returning an error signals the consumer is gone.
type EmitFunc func(Event) error

// StepRunning announces a stage has started.
func StepRunning(kind string) Event {
	return Event{Type: EventStep, StepType: kind, Status: StatusRunning}
}

// StepCompleted announces a stage finished successfully.
func StepCompleted(kind string, d time.Duration) Event {
	return Event{Type: EventStep, StepType: kind, Status: StatusCompleted, Duration: d.Seconds()}
}

// StepFailed announces a stage terminated with an error.
func StepFailed(kind string, d time.Duration) Event {
	return Event{Type: EventStep, StepType: kind, Status: StatusFailed, Duration: d.Seconds()}
}

// SourcesEvent carries the retrieval sources backing an answer.
func SourcesEvent(sources []cache.Source) Event {
	return Event{Type: EventSources, Data: sources}
}

// TokenEvent carries one chunk of response text.
func TokenEvent(content string) Event {
	return Event{Type: EventToken, Content: content}
}

// VisualizationEvent carries a chart payload derived from structured rows.
func VisualizationEvent(data map[string]any) Event {
	return Event{Type: EventVisualization, Data: data}
}

// ErrorEvent carries a terminal user-visible error message.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}
