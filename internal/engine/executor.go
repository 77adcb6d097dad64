package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/provider"
	"mailpilot/pkg/metrics"
)

// Locker 短期互斥锁；Acquire 失败表示另一次执行在途，属于正常并发结果
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool)
}

// Ledger 执行审计账本
type Ledger interface {
	UpsertExecutedRule(ctx context.Context, er *model.ExecutedRule) error
	UpdateExecutedRuleStatus(ctx context.Context, id int64, status model.ExecutedRuleStatus) error
	UpsertExecutedAction(ctx context.Context, ea *model.ExecutedAction) error
	UpdateExecutedActionStatus(ctx context.Context, id int64, status model.ExecutedActionStatus, result, errMsg *string) error
	FindExecutedAction(ctx context.Context, id int64) (*model.ExecutedAction, error)
}

// ActionScheduler 延迟动作的调度入口
type ActionScheduler interface {
	Enqueue(ctx context.Context, sa *model.ScheduledAction) error
}

// DigestSink DIGEST 动作的收集端：追加片段，立即返回，不发送
type DigestSink interface {
	Append(ctx context.Context, accountID, ruleID int64, msg *model.Message) error
}

// ThreadSink TRACK_THREAD 动作的跟踪端
type ThreadSink interface {
	Track(ctx context.Context, accountID, ruleID int64, msg *model.Message) error
}

// ActionSource 延迟执行时按 id 取回动作定义
type ActionSource interface {
	FindAction(ctx context.Context, actionID int64) (*model.Action, error)
}

// Executor applies a matched rule's actions exactly once per message.
// 所有账本写入和 provider 副作用都在 per-message 锁的保护下进行；
// 单个动作失败不阻塞后续动作。
type Executor struct {
	locker    Locker
	ledger    Ledger
	client    provider.Client
	scheduler ActionScheduler
	digests   DigestSink
	threads   ThreadSink
	actions   ActionSource

	messageLockTTL time.Duration
	actionLockTTL  time.Duration
	logger         *zap.Logger
}

func NewExecutor(
	locker Locker,
	ledger Ledger,
	client provider.Client,
	scheduler ActionScheduler,
	digests DigestSink,
	threads ThreadSink,
	actions ActionSource,
	messageLockTTL, actionLockTTL time.Duration,
	logger *zap.Logger,
) *Executor {
	if messageLockTTL == 0 {
		messageLockTTL = 5 * time.Minute
	}
	if actionLockTTL == 0 {
		actionLockTTL = 2 * time.Minute
	}
	return &Executor{
		locker:         locker,
		ledger:         ledger,
		client:         client,
		scheduler:      scheduler,
		digests:        digests,
		threads:        threads,
		actions:        actions,
		messageLockTTL: messageLockTTL,
		actionLockTTL:  actionLockTTL,
		logger:         logger,
	}
}

// messageLockKey 与 pkg/lock.MessageKey 保持一致；通过 Locker 接口传入，
// 测试时可替换为内存实现
func messageLockKey(accountID int64, messageID string) string {
	return fmt.Sprintf("lock:message:%d:%s", accountID, messageID)
}

func actionLockKey(accountID, executedActionID int64) string {
	return fmt.Sprintf("lock:action:%d:%d", accountID, executedActionID)
}

// Execute runs the matched rule's actions for the message. A nil return with
// nil error means another execution held the lock; the caller treats that as
// handled. For "no match" a SKIPPED ledger row is still written so absence
// of action stays auditable.
func (e *Executor) Execute(ctx context.Context, msg *model.Message, attempt int, match *RuleMatch) (*model.ExecutedRule, error) {
	if attempt <= 0 {
		attempt = 1
	}

	release, ok := e.locker.Acquire(ctx, messageLockKey(msg.AccountID, msg.ID), e.messageLockTTL)
	if !ok {
		metrics.IncrementLockContention("message")
		e.logger.Info("Message already being processed, aborting without side effects",
			zap.Int64("account_id", msg.AccountID),
			zap.String("message_id", msg.ID),
		)
		return nil, nil
	}
	defer release()

	er := &model.ExecutedRule{
		AccountID: msg.AccountID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Attempt:   attempt,
	}

	if match == nil {
		er.Status = model.ExecutedRuleSkipped
		if err := e.ledger.UpsertExecutedRule(ctx, er); err != nil {
			return nil, fmt.Errorf("failed to record skipped execution: %w", err)
		}
		return er, nil
	}

	ruleID := match.Rule.ID
	er.RuleID = &ruleID
	er.Status = model.ExecutedRulePending
	er.Reasons = []model.MatchReason{match.Reason}
	er.Rationale = match.Rationale

	if err := e.ledger.UpsertExecutedRule(ctx, er); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	// 同一 (message, attempt) 已经跑完：锁过期后的重放走到这里，直接幂等返回
	if er.Status != model.ExecutedRulePending {
		e.logger.Info("Execution attempt already finalized, skipping",
			zap.Int64("executed_rule_id", er.ID),
			zap.String("status", string(er.Status)),
		)
		return er, nil
	}

	anyFailed := false
	for _, action := range match.Rule.EnabledActions() {
		if failed := e.runAction(ctx, er, &action, msg, &match.Rule); failed {
			anyFailed = true
		}
	}

	final := model.ExecutedRuleApplied
	if anyFailed {
		final = model.ExecutedRuleError
	}
	if err := e.ledger.UpdateExecutedRuleStatus(ctx, er.ID, final); err != nil {
		return nil, fmt.Errorf("failed to finalize execution: %w", err)
	}
	er.Status = final

	e.logger.Info("Rule executed",
		zap.Int64("account_id", msg.AccountID),
		zap.String("message_id", msg.ID),
		zap.Int64("rule_id", ruleID),
		zap.String("status", string(final)),
	)
	return er, nil
}

// runAction executes or schedules one action; returns true when the action
// record ended up FAILED. 失败隔离：这里不返回 error，失败都落进账本。
func (e *Executor) runAction(ctx context.Context, er *model.ExecutedRule, action *model.Action, msg *model.Message, rule *model.Rule) bool {
	ea := &model.ExecutedAction{
		ExecutedRuleID: er.ID,
		ActionID:       action.ID,
		Type:           action.Type,
		Status:         model.ExecutedActionPending,
	}

	if action.Delayed() {
		if !action.Type.SupportsDelay() {
			// 调用方配置错误：不允许静默降级为立即执行
			reason := fmt.Sprintf("action type %s does not support delayed execution", action.Type)
			ea.Status = model.ExecutedActionFailed
			ea.Error = &reason
			if err := e.ledger.UpsertExecutedAction(ctx, ea); err != nil {
				e.logger.Error("Failed to record action", zap.Error(err))
			}
			metrics.IncrementActionExecuted(string(action.Type), "failed")
			return true
		}
		return e.scheduleAction(ctx, ea, action, msg)
	}

	if err := e.ledger.UpsertExecutedAction(ctx, ea); err != nil {
		e.logger.Error("Failed to record action", zap.Error(err))
		return true
	}

	// 上一次未跑完的尝试（锁过期后的重放）已经处理过这个动作：
	// 终态和已排期的直接沿用，不再重放 provider 副作用
	if ea.Status != model.ExecutedActionPending {
		e.logger.Info("Action already recorded by an earlier attempt, skipping",
			zap.Int64("executed_rule_id", er.ID),
			zap.Int64("action_id", action.ID),
			zap.String("status", string(ea.Status)),
		)
		return ea.Status == model.ExecutedActionFailed
	}

	start := time.Now()
	result, err := e.perform(ctx, action, msg, rule)
	metrics.RecordActionExecLatency(string(action.Type), time.Since(start))

	if err != nil {
		reason := err.Error()
		if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionFailed, nil, &reason); uerr != nil {
			e.logger.Error("Failed to record action failure", zap.Error(uerr))
		}
		metrics.IncrementActionExecuted(string(action.Type), "failed")
		e.logger.Warn("Action failed",
			zap.Int64("executed_rule_id", er.ID),
			zap.String("type", string(action.Type)),
			zap.Error(err),
		)
		return true
	}

	if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionApplied, result, nil); uerr != nil {
		e.logger.Error("Failed to record action success", zap.Error(uerr))
	}
	metrics.IncrementActionExecuted(string(action.Type), "applied")
	return false
}

func (e *Executor) scheduleAction(ctx context.Context, ea *model.ExecutedAction, action *model.Action, msg *model.Message) bool {
	runAt := time.Now().Add(time.Duration(*action.DelayInMinutes) * time.Minute)
	ea.Status = model.ExecutedActionScheduled
	ea.ScheduledFor = &runAt

	if err := e.ledger.UpsertExecutedAction(ctx, ea); err != nil {
		e.logger.Error("Failed to record scheduled action", zap.Error(err))
		return true
	}

	// 重放时沿用上一次的记录：已经跑完的不再排期，还在排期的保持原定时间
	if ea.Status.Terminal() {
		return ea.Status == model.ExecutedActionFailed
	}
	if ea.ScheduledFor != nil {
		runAt = *ea.ScheduledFor
	}

	sa := &model.ScheduledAction{
		AccountID:        msg.AccountID,
		ExecutedActionID: ea.ID,
		MessageID:        msg.ID,
		ThreadID:         msg.ThreadID,
		RunAt:            runAt,
	}
	if err := e.scheduler.Enqueue(ctx, sa); err != nil {
		reason := fmt.Sprintf("failed to schedule: %v", err)
		if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionFailed, nil, &reason); uerr != nil {
			e.logger.Error("Failed to record scheduling failure", zap.Error(uerr))
		}
		metrics.IncrementActionExecuted(string(action.Type), "failed")
		return true
	}

	metrics.IncrementActionExecuted(string(action.Type), "scheduled")
	return false
}

// perform issues the provider (or collaborator) call for one action.
func (e *Executor) perform(ctx context.Context, action *model.Action, msg *model.Message, rule *model.Rule) (*string, error) {
	switch action.Type {
	case model.ActionArchive:
		return nil, e.client.ArchiveThread(ctx, msg.AccountID, msg.ThreadID)

	case model.ActionLabel:
		if action.Label == nil || *action.Label == "" {
			return nil, fmt.Errorf("label action %d has no label", action.ID)
		}
		return nil, e.client.ApplyLabel(ctx, msg.AccountID, msg.ThreadID, *action.Label)

	case model.ActionMarkRead:
		return nil, e.client.MarkRead(ctx, msg.AccountID, msg.ID)

	case model.ActionMarkSpam:
		return nil, e.client.MarkSpam(ctx, msg.AccountID, msg.ThreadID)

	case model.ActionReply:
		return nil, e.client.SendReply(ctx, msg.AccountID, msg.ThreadID, draftFrom(action, msg))

	case model.ActionDraft:
		return nil, e.client.CreateDraft(ctx, msg.AccountID, msg.ThreadID, draftFrom(action, msg))

	case model.ActionForward:
		if action.To == nil || *action.To == "" {
			return nil, fmt.Errorf("forward action %d has no recipient", action.ID)
		}
		return nil, e.client.Forward(ctx, msg.AccountID, msg.ID, draftFrom(action, msg))

	case model.ActionCallWebhook:
		if action.URL == nil || *action.URL == "" {
			return nil, fmt.Errorf("webhook action %d has no url", action.ID)
		}
		payload, err := json.Marshal(map[string]any{
			"message_id": msg.ID,
			"thread_id":  msg.ThreadID,
			"rule_id":    rule.ID,
			"rule_name":  rule.Name,
			"from":       msg.From,
			"subject":    msg.Subject,
		})
		if err != nil {
			return nil, err
		}
		return nil, e.client.CallWebhook(ctx, msg.AccountID, *action.URL, payload)

	case model.ActionDigest:
		// 只追加片段，不碰邮箱；批量发送由 digest 窗口调度
		return nil, e.digests.Append(ctx, msg.AccountID, rule.ID, msg)

	case model.ActionTrackThread:
		return nil, e.threads.Track(ctx, msg.AccountID, rule.ID, msg)

	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// draftFrom builds the outgoing content for reply/draft/forward actions.
func draftFrom(action *model.Action, msg *model.Message) provider.DraftInput {
	draft := provider.DraftInput{}
	if action.To != nil {
		draft.To = *action.To
	} else {
		to := msg.From
		if msg.ReplyTo != "" {
			to = msg.ReplyTo
		}
		draft.To = to
	}
	if action.Subject != nil && *action.Subject != "" {
		draft.Subject = *action.Subject
	} else {
		draft.Subject = "Re: " + msg.Subject
	}
	if action.Content != nil {
		draft.Body = *action.Content
	}
	return draft
}
