package threadtrack

import (
	"context"
	"fmt"

	"mailpilot/internal/model"
)

// Repository 会话跟踪记录的持久化面
type Repository interface {
	Upsert(ctx context.Context, t *model.ThreadTracker) error
	Resolve(ctx context.Context, accountID int64, threadID string) error
}

// Service TRACK_THREAD 动作的跟踪端：维护 awaiting-reply / needs-reply
// 状态记录，不触碰邮箱。
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Track records that the thread's latest inbound message still needs a reply.
func (s *Service) Track(ctx context.Context, accountID, ruleID int64, msg *model.Message) error {
	t := &model.ThreadTracker{
		AccountID:     accountID,
		ThreadID:      msg.ThreadID,
		RuleID:        ruleID,
		State:         model.ThreadNeedsReply,
		LastMessageID: msg.ID,
	}
	if err := s.repo.Upsert(ctx, t); err != nil {
		return fmt.Errorf("failed to track thread: %w", err)
	}
	return nil
}

// MarkReplied flips a tracked thread to resolved once the user answered.
func (s *Service) MarkReplied(ctx context.Context, accountID int64, threadID string) error {
	return s.repo.Resolve(ctx, accountID, threadID)
}
