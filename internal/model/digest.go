package model

import "time"

// DigestItemStatus 摘要条目状态
type DigestItemStatus string

const (
	DigestItemPending DigestItemStatus = "PENDING"
	DigestItemSent    DigestItemStatus = "SENT"
)

// DigestItem DIGEST 动作累积的摘要片段，按 (account, window) 聚合，
// 窗口结束后批量发送
type DigestItem struct {
	ID          int64
	AccountID   int64
	RuleID      int64
	MessageID   string
	Summary     string
	WindowStart time.Time
	Status      DigestItemStatus
	CreatedAt   time.Time
}

// ScheduledActionStatus 延迟任务状态
type ScheduledActionStatus string

const (
	ScheduledActionPending   ScheduledActionStatus = "PENDING"
	ScheduledActionPublished ScheduledActionStatus = "PUBLISHED"
	ScheduledActionCancelled ScheduledActionStatus = "CANCELLED"
)

// ScheduledAction 延迟动作的调度行，由 scheduler 轮询到期后发布 action.due 事件。
// 发布前可以取消；发布后跑完为止。
type ScheduledAction struct {
	ID               int64
	AccountID        int64
	ExecutedActionID int64
	MessageID        string
	ThreadID         string
	RunAt            time.Time
	Status           ScheduledActionStatus
	RetryCount       int
	NextRetryAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
