package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/provider"
)

// Repository 摘要片段的持久化面
type Repository interface {
	Append(ctx context.Context, item *model.DigestItem) error
	ListPendingItems(ctx context.Context, accountID int64, windowStart time.Time) ([]model.DigestItem, error)
	MarkSent(ctx context.Context, accountID int64, windowStart time.Time) error
}

// Service accumulates DIGEST fragments per (account, window) and delivers
// them batched when the window closes. Append 的契约是"收下片段就返回"，
// 绝不在执行路径上发送。
type Service struct {
	repo   Repository
	client provider.Client
	window time.Duration
	logger *zap.Logger
}

func NewService(repo Repository, client provider.Client, window time.Duration, logger *zap.Logger) *Service {
	if window == 0 {
		window = time.Hour
	}
	return &Service{
		repo:   repo,
		client: client,
		window: window,
		logger: logger,
	}
}

// Append stores one summary fragment for the current scheduling window.
func (s *Service) Append(ctx context.Context, accountID, ruleID int64, msg *model.Message) error {
	item := &model.DigestItem{
		AccountID:   accountID,
		RuleID:      ruleID,
		MessageID:   msg.ID,
		Summary:     fmt.Sprintf("%s — %s", msg.From, msg.Subject),
		WindowStart: time.Now().UTC().Truncate(s.window),
	}
	if err := s.repo.Append(ctx, item); err != nil {
		return fmt.Errorf("failed to append digest fragment: %w", err)
	}
	return nil
}

// Flush renders a closed window's fragments into one digest and drops it into
// the mailbox as a draft, then marks the fragments sent.
func (s *Service) Flush(ctx context.Context, accountID int64, windowStart time.Time) error {
	items, err := s.repo.ListPendingItems(ctx, accountID, windowStart)
	if err != nil {
		return fmt.Errorf("failed to list digest items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Digest for %s\n\n", windowStart.Format("2006-01-02 15:04"))
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.Summary)
	}

	draft := provider.DraftInput{
		Subject: fmt.Sprintf("Your mail digest (%d items)", len(items)),
		Body:    b.String(),
	}
	if err := s.client.CreateDraft(ctx, accountID, "", draft); err != nil {
		return fmt.Errorf("failed to deliver digest: %w", err)
	}

	if err := s.repo.MarkSent(ctx, accountID, windowStart); err != nil {
		return fmt.Errorf("failed to mark digest sent: %w", err)
	}

	s.logger.Info("Digest flushed",
		zap.Int64("account_id", accountID),
		zap.Time("window_start", windowStart),
		zap.Int("items", len(items)),
	)
	return nil
}
