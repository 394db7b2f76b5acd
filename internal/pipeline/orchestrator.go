package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultAlwaysRunTimeout bounds always-run stages executed after the
// request context is already canceled (client gone).
const DefaultAlwaysRunTimeout = 10 * time.Second

// Orchestrator runs stages in declared order against one shared Request.
//
// Guarantees: events are emitted in strict stage order and never interleaved
// across stages; a stop flag or a stage failure skips all remaining normal
// stages but always-run stages still execute; a panic inside a stage is
// contained at the stage boundary; a client disconnect stops output but
// always-run stages still get a detached, bounded context so persistence
// and accounting complete.
type Orchestrator struct {
	stages           []Stage
	alwaysRunTimeout time.Duration
	logger           *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAlwaysRunTimeout overrides the deadline given to always-run stages
// after the request context is canceled.
func WithAlwaysRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.alwaysRunTimeout = d }
}

// NewOrchestrator creates an Orchestrator over an ordered stage list.
func NewOrchestrator(logger *slog.Logger, stages []Stage, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		stages:           stages,
		alwaysRunTimeout: DefaultAlwaysRunTimeout,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline. It returns the first stage error, after all
// always-run stages have executed; cache, persistence, and analytics stages
// swallow their own failures, so in practice only generation errors surface.
func (o *Orchestrator) Run(ctx context.Context, req *Request, emit EmitFunc) error {
	emit = guardEmit(ctx, emit, o.logger)

	var firstErr error
	for _, stage := range o.stages {
		interrupted := req.Stop || firstErr != nil || ctx.Err() != nil
		if interrupted && !stage.AlwaysRun() {
			o.logger.Debug("stage skipped", "stage", stage.Name())
			continue
		}

		stageCtx := ctx
		var cancel context.CancelFunc
		if ctx.Err() != nil {
			// The client is gone but the stage must still run; give it a
			// detached context with its own deadline.
			stageCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.alwaysRunTimeout)
		}

		err := o.runStage(stageCtx, stage, req, emit)
		if cancel != nil {
			cancel()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runStage executes one stage inside a timeline span, bracketed by step
// events and shielded from panics.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, req *Request, emit EmitFunc) error {
	spanID := req.Timeline.StartSpan(stage.Name(), stage.Name(), "")
	req.SpanID = spanID

	_ = emit(StepRunning(stage.Name()))
	start := time.Now()
	err := o.invoke(ctx, stage, req, emit)
	elapsed := time.Since(start)

	req.SpanID = ""
	req.Timeline.EndSpan(spanID)

	if err != nil {
		o.logger.Error("pipeline stage failed",
			"stage", stage.Name(),
			"session_id", req.SessionID,
			"error", err,
		)
		_ = emit(StepFailed(stage.Name(), elapsed))
		_ = emit(ErrorEvent(fmt.Sprintf("%s failed", stage.Name())))
		return err
	}

	_ = emit(StepCompleted(stage.Name(), elapsed))
	return nil
}

func (o *Orchestrator) invoke(ctx context.Context, stage Stage, req *Request, emit EmitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.Process(ctx, req, emit)
}

// guardEmit wraps the consumer's emit so stages can keep running after the
// consumer is gone: once a write fails or the request context is canceled,
// every later emit becomes a silent no-op.
func guardEmit(ctx context.Context, emit EmitFunc, logger *slog.Logger) EmitFunc {
	var dropped atomic.Bool
	return func(e Event) error {
		if dropped.Load() {
			return nil
		}
		if ctx.Err() != nil {
			dropped.Store(true)
			return nil
		}
		if err := emit(e); err != nil {
			logger.Debug("event write failed, dropping remaining output", "error", err)
			dropped.Store(true)
		}
		return nil
	}
}
