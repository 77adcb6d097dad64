package model

import "time"

// MatchReason 记录规则被选中的依据，按评估顺序排列
type MatchReason string

const (
	ReasonStatic   MatchReason = "STATIC"
	ReasonGroup    MatchReason = "GROUP"
	ReasonCategory MatchReason = "CATEGORY"
	ReasonAI       MatchReason = "AI"
)

// ExecutedRuleStatus 规则执行记录状态
type ExecutedRuleStatus string

const (
	ExecutedRulePending  ExecutedRuleStatus = "PENDING"
	ExecutedRuleApplied  ExecutedRuleStatus = "APPLIED"
	ExecutedRuleRejected ExecutedRuleStatus = "REJECTED"
	ExecutedRuleSkipped  ExecutedRuleStatus = "SKIPPED"
	ExecutedRuleError    ExecutedRuleStatus = "ERROR"
)

// ExecutedRule 一次 (message, attempt) 匹配尝试的审计记录。
// RuleID 为 nil 表示没有规则命中（仍然落一条 SKIPPED 记录，保证可审计）。
type ExecutedRule struct {
	ID        int64
	AccountID int64
	MessageID string
	ThreadID  string
	Attempt   int
	RuleID    *int64
	Status    ExecutedRuleStatus
	Reasons   []MatchReason
	Rationale string // AI 选择时的说明，其他情况为空
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExecutedActionStatus 动作执行记录状态
type ExecutedActionStatus string

const (
	ExecutedActionPending   ExecutedActionStatus = "PENDING"
	ExecutedActionScheduled ExecutedActionStatus = "SCHEDULED"
	ExecutedActionApplied   ExecutedActionStatus = "APPLIED"
	ExecutedActionFailed    ExecutedActionStatus = "FAILED"
)

// Terminal APPLIED/FAILED 之后记录不再变化
func (s ExecutedActionStatus) Terminal() bool {
	return s == ExecutedActionApplied || s == ExecutedActionFailed
}

// ExecutedAction 单个动作实例的执行记录
type ExecutedAction struct {
	ID             int64
	ExecutedRuleID int64
	ActionID       int64
	Type           ActionType
	Status         ExecutedActionStatus
	ScheduledFor   *time.Time
	Result         *string
	Error          *string // FAILED 时必须带人类可读原因
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ThreadTrackerState 会话跟踪状态
type ThreadTrackerState string

const (
	ThreadAwaitingReply ThreadTrackerState = "AWAITING_REPLY"
	ThreadNeedsReply    ThreadTrackerState = "NEEDS_REPLY"
)

// ThreadTracker TRACK_THREAD 动作维护的轻量会话跟踪记录
type ThreadTracker struct {
	ID            int64
	AccountID     int64
	ThreadID      string
	RuleID        int64
	State         ThreadTrackerState
	LastMessageID string
	Resolved      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
