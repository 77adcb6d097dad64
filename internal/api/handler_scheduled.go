package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"mailpilot/internal/model"
)

// ActionCanceller 延迟动作发布前的取消入口
type ActionCanceller interface {
	Cancel(ctx context.Context, accountID, id int64) (int64, error)
}

// ActionFinalizer 取消后的账本收尾
type ActionFinalizer interface {
	UpdateExecutedActionStatus(ctx context.Context, id int64, status model.ExecutedActionStatus, result, errMsg *string) error
}

type ScheduledActionHandler struct {
	scheduled ActionCanceller
	ledger    ActionFinalizer
}

func NewScheduledActionHandler(scheduled ActionCanceller, ledger ActionFinalizer) *ScheduledActionHandler {
	return &ScheduledActionHandler{scheduled: scheduled, ledger: ledger}
}

// Cancel handles POST /scheduled-actions/:id/cancel. 只有还没发布的动作能取消；
// 已经触发的跑到结束为止。
func (h *ScheduledActionHandler) Cancel(c *gin.Context) {
	accountID := c.GetInt64("account_id")

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled action id"})
		return
	}

	executedActionID, err := h.scheduled.Cancel(c.Request.Context(), accountID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusConflict, gin.H{"error": "scheduled action already fired or cancelled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel scheduled action"})
		return
	}

	reason := "cancelled before execution"
	if err := h.ledger.UpdateExecutedActionStatus(c.Request.Context(), executedActionID, model.ExecutedActionFailed, nil, &reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finalize action record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
