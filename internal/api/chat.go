package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/pipeline"
	"github.com/venn0/venn/internal/timeline"
)

const (
	// defaultMaxBodyBytes caps the chat request body.
	defaultMaxBodyBytes = 64 * 1024

	// maxMessageChars caps the user message length.
	maxMessageChars = 8000
)

// chatRequest is the chat endpoint's input.
type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	AssistantID string `json:"assistant_id"`
	Language    string `json:"language,omitempty"`
}

// chatHandler streams pipeline events as NDJSON.
type chatHandler struct {
	orch    *pipeline.Orchestrator
	cache   *cache.SemanticCache
	maxBody int64
	logger  *slog.Logger
}

// stream handles POST /api/v1/chat.
//
// Validation failures are rejected with a JSON 4xx before any streaming
// begins. Once streaming has started, stage failures arrive as error events
// inside the stream; the HTTP status is already 200 by then.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var in chatRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	in.Message = strings.TrimSpace(in.Message)
	switch {
	case in.Message == "":
		writeError(w, http.StatusBadRequest, "message_required", "message must not be empty")
		return
	case utf8.RuneCountInString(in.Message) > maxMessageChars:
		writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds maximum length")
		return
	case in.AssistantID == "":
		writeError(w, http.StatusBadRequest, "assistant_required", "assistant_id must be provided")
		return
	}

	sessionID := uuid.New()
	if in.SessionID != "" {
		parsed, err := uuid.Parse(in.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session", "session_id must be a UUID")
			return
		}
		sessionID = parsed
	}
	if in.Language == "" {
		in.Language = "en"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)

	req := pipeline.NewRequest(in.Message, sessionID, in.UserID, in.AssistantID, in.Language,
		timeline.NewTracker(h.logger), h.cache)

	enc := json.NewEncoder(w)
	emit := func(e pipeline.Event) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.orch.Run(r.Context(), req, emit); err != nil {
		// Already surfaced to the client as an error event; log for ops.
		h.logger.Error("chat pipeline failed",
			"session_id", sessionID,
			"assistant_id", in.AssistantID,
			"error", err,
		)
	}
}
