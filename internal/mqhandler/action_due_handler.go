package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	contracts "mailpilot/contracts/mq"
	"mailpilot/internal/engine"
)

// ActionDueHandler 处理到期的延迟动作。互斥和状态检查都在
// Executor.RunDelayed 里，这里只做解包。
type ActionDueHandler struct {
	executor *engine.Executor
	logger   *zap.Logger
}

func NewActionDueHandler(executor *engine.Executor, logger *zap.Logger) *ActionDueHandler {
	return &ActionDueHandler{executor: executor, logger: logger}
}

func (h *ActionDueHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p contracts.ActionDuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Malformed action.due payload, dropping", zap.Error(err))
		return nil
	}

	h.logger.Info("Delayed action due",
		zap.Int64("account_id", p.AccountID),
		zap.Int64("executed_action_id", p.ExecutedActionID),
	)

	return h.executor.RunDelayed(ctx, p.AccountID, p.ExecutedActionID, p.MessageID, p.ThreadID)
}
