package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/pkg/metrics"
)

// RunDelayed executes a fired delayed action. The original message lock is
// long gone by now; mutual exclusion is re-acquired per
// (account, executedActionId). Cancelled or finalized records are left alone.
func (e *Executor) RunDelayed(ctx context.Context, accountID, executedActionID int64, messageID, threadID string) error {
	release, ok := e.locker.Acquire(ctx, actionLockKey(accountID, executedActionID), e.actionLockTTL)
	if !ok {
		metrics.IncrementLockContention("action")
		e.logger.Info("Delayed action already being executed, aborting",
			zap.Int64("account_id", accountID),
			zap.Int64("executed_action_id", executedActionID),
		)
		return nil
	}
	defer release()

	ea, err := e.ledger.FindExecutedAction(ctx, executedActionID)
	if err != nil {
		return fmt.Errorf("failed to load executed action %d: %w", executedActionID, err)
	}
	if ea.Status != model.ExecutedActionScheduled {
		// 已取消或已跑完，一旦触发后不再重复执行
		e.logger.Debug("Delayed action not in SCHEDULED state, skipping",
			zap.Int64("executed_action_id", executedActionID),
			zap.String("status", string(ea.Status)),
		)
		return nil
	}

	action, err := e.actions.FindAction(ctx, ea.ActionID)
	if err != nil {
		reason := fmt.Sprintf("action definition %d no longer exists", ea.ActionID)
		if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionFailed, nil, &reason); uerr != nil {
			e.logger.Error("Failed to record delayed action failure", zap.Error(uerr))
		}
		metrics.IncrementActionExecuted(string(ea.Type), "failed")
		return nil
	}

	msg, err := e.client.GetMessage(ctx, accountID, messageID)
	if err != nil {
		reason := fmt.Sprintf("failed to fetch message: %v", err)
		if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionFailed, nil, &reason); uerr != nil {
			e.logger.Error("Failed to record delayed action failure", zap.Error(uerr))
		}
		metrics.IncrementActionExecuted(string(ea.Type), "failed")
		return nil
	}
	msg.AccountID = accountID
	if msg.ThreadID == "" {
		msg.ThreadID = threadID
	}

	rule := model.Rule{ID: action.RuleID}

	result, err := e.perform(ctx, action, msg, &rule)
	if err != nil {
		reason := err.Error()
		if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionFailed, nil, &reason); uerr != nil {
			e.logger.Error("Failed to record delayed action failure", zap.Error(uerr))
		}
		metrics.IncrementActionExecuted(string(ea.Type), "failed")
		e.logger.Warn("Delayed action failed",
			zap.Int64("executed_action_id", ea.ID),
			zap.String("type", string(ea.Type)),
			zap.Error(err),
		)
		return nil
	}

	if uerr := e.ledger.UpdateExecutedActionStatus(ctx, ea.ID, model.ExecutedActionApplied, result, nil); uerr != nil {
		e.logger.Error("Failed to record delayed action success", zap.Error(uerr))
	}
	metrics.IncrementActionExecuted(string(ea.Type), "applied")

	e.logger.Info("Delayed action executed",
		zap.Int64("account_id", accountID),
		zap.Int64("executed_action_id", ea.ID),
		zap.String("type", string(ea.Type)),
	)
	return nil
}
