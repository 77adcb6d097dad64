package mq

// ActionDuePayload 延迟动作到期事件的 payload
type ActionDuePayload struct {
	ScheduledActionID int64  `json:"scheduled_action_id"`
	AccountID         int64  `json:"account_id"`
	ExecutedActionID  int64  `json:"executed_action_id"`
	MessageID         string `json:"message_id"`
	ThreadID          string `json:"thread_id"`
}

// DigestFlushPayload 摘要窗口结束事件的 payload
type DigestFlushPayload struct {
	AccountID   int64  `json:"account_id"`
	WindowStart string `json:"window_start"` // RFC3339
	WindowEnd   string `json:"window_end"`   // RFC3339
}
