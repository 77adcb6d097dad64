package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	contracts "mailpilot/contracts/mq"
	"mailpilot/internal/engine"
	"mailpilot/internal/model"
	"mailpilot/internal/provider"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/util"
)

const mailReceivedMaxRetries = 5

// MailReceivedHandler 处理 mail.received 触发：取回邮件 → 匹配 → 执行。
// 触发方保证 at-least-once 投递；幂等靠 executor 的 per-message 锁和
// (message, attempt) 幂等落账。重投超限的消息进 DLQ，不无限打转。
type MailReceivedHandler struct {
	client    provider.Client
	matcher   *engine.Matcher
	executor  *engine.Executor
	retries   *util.RetryCounter
	publisher *mq.Publisher
	logger    *zap.Logger
}

func NewMailReceivedHandler(
	client provider.Client,
	matcher *engine.Matcher,
	executor *engine.Executor,
	retries *util.RetryCounter,
	publisher *mq.Publisher,
	logger *zap.Logger,
) *MailReceivedHandler {
	return &MailReceivedHandler{
		client:    client,
		matcher:   matcher,
		executor:  executor,
		retries:   retries,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *MailReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p contracts.MailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// 格式错误的触发重投多少次都没用，直接进 DLQ
		h.logger.Error("Malformed mail.received payload, sending to DLQ", zap.Error(err))
		if derr := h.publisher.PublishToDLQ("mail.received", raw, err.Error()); derr != nil {
			h.logger.Error("Failed to publish to DLQ", zap.Error(derr))
		}
		return nil
	}

	err := h.process(ctx, &p)
	if err == nil {
		_ = h.retries.Reset(ctx, util.FormatRetryKey("mail.received", p.MessageID))
		return nil
	}

	retryable, errType := util.IsRetryableError(err)
	count, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey("mail.received", p.MessageID))
	if cerr != nil {
		// 计数不可用时交给 MQ 正常重投
		return err
	}

	if util.ShouldRetry(count, mailReceivedMaxRetries, retryable) {
		h.logger.Warn("mail.received processing failed, will retry",
			zap.String("message_id", p.MessageID),
			zap.Int64("retry_count", count),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return err
	}

	h.logger.Error("mail.received processing failed permanently, sending to DLQ",
		zap.String("message_id", p.MessageID),
		zap.Int64("retry_count", count),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	if derr := h.publisher.PublishToDLQ("mail.received", raw, err.Error()); derr != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(derr))
		return err
	}
	return nil
}

func (h *MailReceivedHandler) process(ctx context.Context, p *contracts.MailReceivedPayload) error {
	msg, err := h.client.GetMessage(ctx, p.AccountID, p.MessageID)
	if err != nil {
		return fmt.Errorf("failed to fetch message %s: %w", p.MessageID, err)
	}
	msg.AccountID = p.AccountID
	if msg.ThreadID == "" {
		msg.ThreadID = p.ThreadID
	}

	result, err := h.matcher.Match(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to match rules: %w", err)
	}

	if len(result.PotentialMatches) > 0 {
		names := make([]string, 0, len(result.PotentialMatches))
		for _, pm := range result.PotentialMatches {
			names = append(names, pm.Rule.Name)
		}
		h.logger.Info("Suggest-only rules matched, surfacing without execution",
			zap.String("message_id", msg.ID),
			zap.Strings("rules", names),
		)
	}

	var match *engine.RuleMatch
	var ruleID any = nil
	if result.Match != nil {
		match = result.Match
		ruleID = match.Rule.ID
	}

	er, err := h.executor.Execute(ctx, msg, p.Attempt, match)
	if err != nil {
		return fmt.Errorf("failed to execute rule: %w", err)
	}
	if er == nil {
		// 另一个执行在途，正常结果
		return nil
	}

	if er.Status == model.ExecutedRuleError {
		h.logger.Warn("Rule execution finished with failed actions",
			zap.String("message_id", msg.ID),
			zap.Any("rule_id", ruleID),
			zap.Int64("executed_rule_id", er.ID),
		)
	}
	return nil
}
