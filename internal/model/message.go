package model

import "time"

// Message 引擎处理的邮件快照，由外部触发方（webhook/轮询）提供
type Message struct {
	ID         string
	ThreadID   string
	AccountID  int64
	From       string
	To         string
	ReplyTo    string
	Cc         string
	Subject    string
	Body       string
	ReceivedAt time.Time
}
