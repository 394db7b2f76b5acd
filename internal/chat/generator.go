// Package chat wraps the Genkit model surface for the generation stage:
// streaming generation with bounded retries, per-call deadlines, and an
// embedder adapter for the semantic cache.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/venn0/venn/internal/history"
)

// DefaultCallTimeout bounds a single model call. On expiry the call is a
// failure (retryable), never a hang.
const DefaultCallTimeout = 60 * time.Second

// StreamFunc receives each partial text chunk as the model produces it.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, text string) error

// Result is the outcome of one generation call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Generator executes streaming model calls.
type Generator struct {
	g           *genkit.Genkit
	modelName   string
	system      string
	callTimeout time.Duration
	retry       RetryConfig
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// ModelName is the provider-qualified model (e.g. "googleai/gemini-2.5-flash").
	ModelName string

	// System is the system prompt prepended to every call.
	System string

	// CallTimeout bounds each model call. <= 0 selects DefaultCallTimeout.
	CallTimeout time.Duration

	// Retry controls transient-failure retries. Zero value selects defaults.
	Retry RetryConfig

	// RateLimit caps model calls per second across all requests.
	// <= 0 disables rate limiting.
	RateLimit float64
}

// NewGenerator creates a Generator.
func NewGenerator(g *genkit.Genkit, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Generator{
		g:           g,
		modelName:   cfg.ModelName,
		system:      cfg.System,
		callTimeout: cfg.CallTimeout,
		retry:       cfg.Retry,
		limiter:     limiter,
		logger:      logger,
	}
}

// Generate runs one streaming model call: recent history plus the new user
// question, chunks forwarded to stream as they arrive. Token counts come
// from provider usage when reported, estimated otherwise.
func (g *Generator) Generate(ctx context.Context, recent []history.Message, question string, stream StreamFunc) (*Result, error) {
	messages := buildMessages(g.system, recent, question)

	opts := []ai.GenerateOption{
		ai.WithMessages(messages...),
	}
	if g.modelName != "" {
		opts = append(opts, ai.WithModelName(g.modelName))
	}
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				if err := stream(ctx, part.Text); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	resp, err := g.generateWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{Text: resp.Text()}
	if resp.Usage != nil && (resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0) {
		result.InputTokens = resp.Usage.InputTokens
		result.OutputTokens = resp.Usage.OutputTokens
	} else {
		result.InputTokens = estimateMessagesTokens(messages)
		result.OutputTokens = EstimateTokens(result.Text)
	}
	return result, nil
}

// generateWithRetry executes the call with exponential backoff on transient
// failures. Each attempt gets its own deadline and passes the rate limiter.
func (g *Generator) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := g.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		resp, err := genkit.Generate(callCtx, g.g, opts...)
		cancel()
		if err == nil {
			g.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("model call: %w", err)
		}
		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying model call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("model call after %d retries (elapsed: %v): %w",
		g.retry.MaxRetries, time.Since(start), lastErr)
}

// buildMessages assembles the model input: system prompt, recent turns,
// then the new question.
func buildMessages(system string, recent []history.Message, question string) []*ai.Message {
	messages := make([]*ai.Message, 0, len(recent)+2)
	if system != "" {
		messages = append(messages, ai.NewSystemTextMessage(system))
	}
	for _, msg := range recent {
		switch msg.Role {
		case history.RoleAssistant:
			messages = append(messages, ai.NewModelTextMessage(msg.Content))
		default:
			messages = append(messages, ai.NewUserTextMessage(msg.Content))
		}
	}
	return append(messages, ai.NewUserTextMessage(question))
}
