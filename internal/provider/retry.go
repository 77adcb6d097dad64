package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/pkg/util"
)

// RetryingClient 给 Client 的每个调用加上指数退避重试。
// 只有被分类为瞬态的错误（限流、网络抖动）才重试；尝试次数有上限，
// 超过后错误原样返回，由调用方记为 FAILED。
type RetryingClient struct {
	inner       Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

func NewRetryingClient(inner Client, maxAttempts int, logger *zap.Logger) *RetryingClient {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryingClient{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
	}
}

// classify 先识别后端实现包装的哨兵错误，再退回通用分类
func classify(err error) (bool, string) {
	if errors.Is(err, ErrRateLimited) {
		return true, "provider_rate_limited"
	}
	if errors.Is(err, ErrTransient) {
		return true, "provider_transient"
	}
	if errors.Is(err, ErrNotFound) {
		return false, "provider_not_found"
	}
	return util.IsRetryableError(err)
}

func (c *RetryingClient) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		retryable, errType := classify(err)
		if !retryable || attempt == c.maxAttempts {
			return err
		}

		// 指数退避：500ms, 1s, 2s...
		delay := c.baseDelay << (attempt - 1)
		c.logger.Warn("Provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.String("error_type", errType),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (c *RetryingClient) ArchiveThread(ctx context.Context, accountID int64, threadID string) error {
	return c.do(ctx, "archive_thread", func() error {
		return c.inner.ArchiveThread(ctx, accountID, threadID)
	})
}

func (c *RetryingClient) ApplyLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return c.do(ctx, "apply_label", func() error {
		return c.inner.ApplyLabel(ctx, accountID, threadID, label)
	})
}

func (c *RetryingClient) RemoveLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return c.do(ctx, "remove_label", func() error {
		return c.inner.RemoveLabel(ctx, accountID, threadID, label)
	})
}

func (c *RetryingClient) MarkRead(ctx context.Context, accountID int64, messageID string) error {
	return c.do(ctx, "mark_read", func() error {
		return c.inner.MarkRead(ctx, accountID, messageID)
	})
}

func (c *RetryingClient) MarkSpam(ctx context.Context, accountID int64, threadID string) error {
	return c.do(ctx, "mark_spam", func() error {
		return c.inner.MarkSpam(ctx, accountID, threadID)
	})
}

func (c *RetryingClient) CreateDraft(ctx context.Context, accountID int64, threadID string, draft DraftInput) error {
	return c.do(ctx, "create_draft", func() error {
		return c.inner.CreateDraft(ctx, accountID, threadID, draft)
	})
}

func (c *RetryingClient) SendReply(ctx context.Context, accountID int64, threadID string, draft DraftInput) error {
	return c.do(ctx, "send_reply", func() error {
		return c.inner.SendReply(ctx, accountID, threadID, draft)
	})
}

func (c *RetryingClient) Forward(ctx context.Context, accountID int64, messageID string, draft DraftInput) error {
	return c.do(ctx, "forward", func() error {
		return c.inner.Forward(ctx, accountID, messageID, draft)
	})
}

func (c *RetryingClient) CallWebhook(ctx context.Context, accountID int64, url string, payload []byte) error {
	return c.do(ctx, "call_webhook", func() error {
		return c.inner.CallWebhook(ctx, accountID, url, payload)
	})
}

func (c *RetryingClient) GetThread(ctx context.Context, accountID int64, threadID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, "get_thread", func() error {
		var err error
		msgs, err = c.inner.GetThread(ctx, accountID, threadID)
		return err
	})
	return msgs, err
}

func (c *RetryingClient) GetMessage(ctx context.Context, accountID int64, messageID string) (*model.Message, error) {
	var msg *model.Message
	err := c.do(ctx, "get_message", func() error {
		var err error
		msg, err = c.inner.GetMessage(ctx, accountID, messageID)
		return err
	})
	return msg, err
}
