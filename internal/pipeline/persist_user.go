package pipeline

import (
	"context"
	"log/slog"

	"github.com/venn0/venn/internal/history"
)

// StageUserPersist is the step kind of the user persistence stage.
const StageUserPersist = "user_persist"

// UserPersistenceStage records the user's turn in hot and cold storage
// before generation begins, so the turn survives a generation failure or
// timeout. Both writes are best-effort: the stage logs and never errors.
type UserPersistenceStage struct {
	hot    *history.HotStore
	cold   *history.ColdStore
	logger *slog.Logger
}

// NewUserPersistenceStage creates the stage. Either store may be nil.
func NewUserPersistenceStage(hot *history.HotStore, cold *history.ColdStore, logger *slog.Logger) *UserPersistenceStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserPersistenceStage{hot: hot, cold: cold, logger: logger}
}

func (s *UserPersistenceStage) Name() string    { return StageUserPersist }
func (s *UserPersistenceStage) AlwaysRun() bool { return true }

func (s *UserPersistenceStage) Process(ctx context.Context, req *Request, _ EmitFunc) error {
	if req.Message == "" {
		return nil
	}

	if s.hot != nil {
		msg := history.Message{Role: history.RoleUser, Content: req.Message}
		if err := s.hot.Push(ctx, req.SessionID, msg); err != nil {
			s.logger.Warn("hot user message write failed",
				"session_id", req.SessionID, "error", err)
		}
	}

	if s.cold != nil {
		metadata := map[string]any{"user_id": req.UserID}
		if err := s.cold.Add(ctx, req.SessionID, history.RoleUser, req.Message, metadata); err != nil {
			s.logger.Warn("cold user message write failed",
				"session_id", req.SessionID, "error", err)
		}
	}
	return nil
}
