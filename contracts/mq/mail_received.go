package mq

import "time"

// MailReceivedPayload 新邮件触发事件的 payload
//
// Triggers may be redelivered (webhook replay, manual re-run, polling
// overlap); consumers must stay idempotent. Attempt identifies the
// rule-evaluation attempt for ledger upserts and defaults to 1.
type MailReceivedPayload struct {
	AccountID  int64     `json:"account_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	Attempt    int       `json:"attempt"`
	ReceivedAt time.Time `json:"received_at"`
}
