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

const defaultPageSize = 50

// LedgerReader 审计账本的只读查询面（reject 是账本允许的唯一用户侧变更）
type LedgerReader interface {
	ListByMessage(ctx context.Context, accountID int64, messageID string) ([]model.ExecutedRule, error)
	ListByRule(ctx context.Context, accountID, ruleID int64, limit, offset int) ([]model.ExecutedRule, error)
	ListUnrouted(ctx context.Context, accountID int64, limit, offset int) ([]model.ExecutedRule, error)
	ListActions(ctx context.Context, executedRuleID int64) ([]model.ExecutedAction, error)
	RejectExecutedRule(ctx context.Context, accountID, id int64) error
}

type ExecutionHandler struct {
	ledger LedgerReader
}

func NewExecutionHandler(ledger LedgerReader) *ExecutionHandler {
	return &ExecutionHandler{ledger: ledger}
}

type executionResponse struct {
	Execution model.ExecutedRule     `json:"execution"`
	Actions   []model.ExecutedAction `json:"actions"`
}

// GetByMessage handles GET /messages/:messageID/executions
func (h *ExecutionHandler) GetByMessage(c *gin.Context) {
	accountID := c.GetInt64("account_id")
	messageID := c.Param("messageID")

	records, err := h.ledger.ListByMessage(c.Request.Context(), accountID, messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch executions"})
		return
	}

	resp := make([]executionResponse, 0, len(records))
	for _, er := range records {
		actions, err := h.ledger.ListActions(c.Request.Context(), er.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch actions"})
			return
		}
		resp = append(resp, executionResponse{Execution: er, Actions: actions})
	}

	c.JSON(http.StatusOK, gin.H{"executions": resp})
}

// GetByRule handles GET /rules/:ruleID/executions
func (h *ExecutionHandler) GetByRule(c *gin.Context) {
	accountID := c.GetInt64("account_id")

	ruleID, err := strconv.ParseInt(c.Param("ruleID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	limit, offset := pagination(c)
	records, err := h.ledger.ListByRule(c.Request.Context(), accountID, ruleID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": records, "limit": limit, "offset": offset})
}

// GetUnrouted handles GET /executions/unrouted — messages no rule claimed.
func (h *ExecutionHandler) GetUnrouted(c *gin.Context) {
	accountID := c.GetInt64("account_id")

	limit, offset := pagination(c)
	records, err := h.ledger.ListUnrouted(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch unrouted executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": records, "limit": limit, "offset": offset})
}

// Reject handles POST /executions/:id/reject — the explicit user rejection
// transition. Undo of applied side effects is a compensating action elsewhere,
// never a ledger mutation.
func (h *ExecutionHandler) Reject(c *gin.Context) {
	accountID := c.GetInt64("account_id")

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	// 账号谓词在 SQL 里生效：别人账号下的 id 和不可拒绝的状态都表现为不存在
	if err := h.ledger.RejectExecutedRule(c.Request.Context(), accountID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found or not rejectable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject execution"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func pagination(c *gin.Context) (int, int) {
	limit := defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
