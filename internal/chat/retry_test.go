package chat

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rate limit", errors.New("googleai: rate limit exceeded"), true},
		{"429 status", errors.New("unexpected status 429"), true},
		{"503", errors.New("upstream returned 503"), true},
		{"service unavailable", errors.New("model temporarily UNAVAILABLE"), true},
		{"deadline", fmt.Errorf("call: %w", errors.New("context deadline exceeded")), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"invalid argument", errors.New("invalid request: empty prompt"), false},
		{"auth failure", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"hello world!", 6},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialInterval >= cfg.MaxInterval {
		t.Errorf("InitialInterval %v must be below MaxInterval %v", cfg.InitialInterval, cfg.MaxInterval)
	}
}
