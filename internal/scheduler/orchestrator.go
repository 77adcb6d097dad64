package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	contracts "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
)

const dueBatchSize = 100

// ScheduledActionStore 延迟动作 outbox 的调度面
type ScheduledActionStore interface {
	ListDue(ctx context.Context, limit int) ([]model.ScheduledAction, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkPublishFailed(ctx context.Context, id int64) error
}

// DigestWindowStore 已关闭摘要窗口的查询面
type DigestWindowStore interface {
	ListClosedWindows(ctx context.Context, cutoff time.Time) ([]repository.DigestWindow, error)
}

// EventPublisher 事件出口
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Orchestrator 周期性扫描到期的延迟动作和已关闭的摘要窗口，
// 把它们作为事件发布给 worker 执行
type Orchestrator struct {
	scheduled    ScheduledActionStore
	digests      DigestWindowStore
	publisher    EventPublisher
	digestWindow time.Duration
	logger       *zap.Logger
}

func NewOrchestrator(
	scheduled ScheduledActionStore,
	digests DigestWindowStore,
	publisher EventPublisher,
	digestWindow time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	if digestWindow == 0 {
		digestWindow = time.Hour
	}
	return &Orchestrator{
		scheduled:    scheduled,
		digests:      digests,
		publisher:    publisher,
		digestWindow: digestWindow,
		logger:       logger,
	}
}

// DispatchDueActions publishes action.due for every pending scheduled action
// whose run_at has passed. Publish failures back off per row; the row stays
// PENDING until the event is actually handed to the broker.
func (o *Orchestrator) DispatchDueActions(ctx context.Context) error {
	due, err := o.scheduled.ListDue(ctx, dueBatchSize)
	if err != nil {
		o.logger.Error("Failed to list due scheduled actions", zap.Error(err))
		return err
	}

	if len(due) == 0 {
		o.logger.Debug("No due scheduled actions")
		return nil
	}

	published := 0
	for _, sa := range due {
		payload := contracts.ActionDuePayload{
			ScheduledActionID: sa.ID,
			AccountID:         sa.AccountID,
			ExecutedActionID:  sa.ExecutedActionID,
			MessageID:         sa.MessageID,
			ThreadID:          sa.ThreadID,
		}
		if err := o.publisher.Publish("action.due", payload); err != nil {
			o.logger.Error("Failed to publish action.due event",
				zap.Int64("scheduled_action_id", sa.ID),
				zap.Error(err),
			)
			if merr := o.scheduled.MarkPublishFailed(ctx, sa.ID); merr != nil {
				o.logger.Error("Failed to record publish failure",
					zap.Int64("scheduled_action_id", sa.ID),
					zap.Error(merr),
				)
			}
			continue
		}
		if err := o.scheduled.MarkPublished(ctx, sa.ID); err != nil {
			o.logger.Error("Failed to mark scheduled action published",
				zap.Int64("scheduled_action_id", sa.ID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	o.logger.Info("Due action dispatch completed",
		zap.Int("due_count", len(due)),
		zap.Int("published", published),
	)
	return nil
}

// FlushClosedDigests publishes digest.flush for every (account, window) whose
// window has closed and still holds pending fragments.
func (o *Orchestrator) FlushClosedDigests(ctx context.Context) error {
	cutoff := time.Now().UTC().Truncate(o.digestWindow)

	windows, err := o.digests.ListClosedWindows(ctx, cutoff)
	if err != nil {
		o.logger.Error("Failed to list closed digest windows", zap.Error(err))
		return err
	}

	for _, w := range windows {
		payload := contracts.DigestFlushPayload{
			AccountID:   w.AccountID,
			WindowStart: w.WindowStart.Format(time.RFC3339),
			WindowEnd:   w.WindowStart.Add(o.digestWindow).Format(time.RFC3339),
		}
		if err := o.publisher.Publish("digest.flush", payload); err != nil {
			o.logger.Error("Failed to publish digest.flush event",
				zap.Int64("account_id", w.AccountID),
				zap.Time("window_start", w.WindowStart),
				zap.Error(err),
			)
			continue
		}
		o.logger.Info("Published digest.flush event",
			zap.Int64("account_id", w.AccountID),
			zap.Time("window_start", w.WindowStart),
			zap.Int("items", w.ItemCount),
		)
	}

	return nil
}

// Run ticks both dispatch loops until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("Scheduler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := o.DispatchDueActions(ctx); err != nil {
				continue
			}
			if err := o.FlushClosedDigests(ctx); err != nil {
				continue
			}
		}
	}
}
