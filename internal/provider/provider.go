package provider

import (
	"context"
	"errors"

	"mailpilot/internal/model"
)

// 供错误分类使用的哨兵错误；具体后端实现应当用 %w 包装
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrTransient   = errors.New("provider transient failure")
	ErrNotFound    = errors.New("provider resource not found")
)

// DraftInput 草稿/回复/转发的内容
type DraftInput struct {
	To      string
	Subject string
	Body    string
}

// Client 邮箱后端的统一能力面。Gmail 类或 Outlook 类后端都实现同一套接口，
// 引擎只面向这个接口编程，不关心底层 HTTP/SDK 调用。
type Client interface {
	ArchiveThread(ctx context.Context, accountID int64, threadID string) error
	ApplyLabel(ctx context.Context, accountID int64, threadID, label string) error
	RemoveLabel(ctx context.Context, accountID int64, threadID, label string) error
	MarkRead(ctx context.Context, accountID int64, messageID string) error
	MarkSpam(ctx context.Context, accountID int64, threadID string) error
	CreateDraft(ctx context.Context, accountID int64, threadID string, draft DraftInput) error
	SendReply(ctx context.Context, accountID int64, threadID string, draft DraftInput) error
	Forward(ctx context.Context, accountID int64, messageID string, draft DraftInput) error
	CallWebhook(ctx context.Context, accountID int64, url string, payload []byte) error
	GetThread(ctx context.Context, accountID int64, threadID string) ([]model.Message, error)
	GetMessage(ctx context.Context, accountID int64, messageID string) (*model.Message, error)
}
