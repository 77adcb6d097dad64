package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

// LedgerRepository persists ExecutedRule/ExecutedAction audit records.
// 审计日志只追加不删除；规则记录以 (account, message, attempt) 为自然键幂等落库
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// UpsertExecutedRule inserts the record, or returns the existing row's state
// when the same (account, message, attempt) was already recorded. Lock
// 保护下的重试不会产生重复审计行。
func (r *LedgerRepository) UpsertExecutedRule(ctx context.Context, er *model.ExecutedRule) error {
	query := `
        INSERT INTO executed_rules
            (account_id, message_id, thread_id, attempt, rule_id, status, reasons, rationale, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        ON CONFLICT (account_id, message_id, attempt)
        DO UPDATE SET updated_at = NOW()
        RETURNING id, status, created_at, updated_at
    `
	reasons := make([]string, len(er.Reasons))
	for i, reason := range er.Reasons {
		reasons[i] = string(reason)
	}

	var status string
	err := r.db.QueryRow(ctx, query,
		er.AccountID,
		er.MessageID,
		er.ThreadID,
		er.Attempt,
		er.RuleID,
		string(er.Status),
		reasons,
		er.Rationale,
	).Scan(&er.ID, &status, &er.CreatedAt, &er.UpdatedAt)
	if err != nil {
		return err
	}
	er.Status = model.ExecutedRuleStatus(status)
	return nil
}

// UpdateExecutedRuleStatus moves a record to a new status.
func (r *LedgerRepository) UpdateExecutedRuleStatus(ctx context.Context, id int64, status model.ExecutedRuleStatus) error {
	query := `
        UPDATE executed_rules
        SET status = $1, updated_at = NOW()
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, string(status), id)
	return err
}

// RejectExecutedRule flips a finished execution to REJECTED on behalf of the
// account that owns it. 账号谓词防止越权改写别人的账本；PENDING 行还在执行，
// 已 REJECTED 的行保持不变，两者都报 pgx.ErrNoRows。
func (r *LedgerRepository) RejectExecutedRule(ctx context.Context, accountID, id int64) error {
	query := `
        UPDATE executed_rules
        SET status = 'REJECTED', updated_at = NOW()
        WHERE id = $1 AND account_id = $2 AND status IN ('APPLIED', 'ERROR')
    `
	tag, err := r.db.Exec(ctx, query, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpsertExecutedAction inserts the action record, or returns the existing
// row's state when the same (executed_rule, action) was already recorded by
// an earlier attempt. 与规则记录同样的幂等口径：PENDING 的规则行被重放时，
// 已经跑过的动作不会再插一行，调用方据回传状态决定是否还有副作用要执行。
func (r *LedgerRepository) UpsertExecutedAction(ctx context.Context, ea *model.ExecutedAction) error {
	query := `
        INSERT INTO executed_actions
            (executed_rule_id, action_id, type, status, scheduled_for, result, error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
        ON CONFLICT (executed_rule_id, action_id)
        DO UPDATE SET updated_at = NOW()
        RETURNING id, status, scheduled_for, created_at, updated_at
    `
	var status string
	err := r.db.QueryRow(ctx, query,
		ea.ExecutedRuleID,
		ea.ActionID,
		string(ea.Type),
		string(ea.Status),
		ea.ScheduledFor,
		ea.Result,
		ea.Error,
	).Scan(&ea.ID, &status, &ea.ScheduledFor, &ea.CreatedAt, &ea.UpdatedAt)
	if err != nil {
		return err
	}
	ea.Status = model.ExecutedActionStatus(status)
	return nil
}

// UpdateExecutedActionStatus finalizes an action record. APPLIED/FAILED 是
// 终态，不允许再回写。
func (r *LedgerRepository) UpdateExecutedActionStatus(ctx context.Context, id int64, status model.ExecutedActionStatus, result, errMsg *string) error {
	query := `
        UPDATE executed_actions
        SET status = $1, result = $2, error = $3, updated_at = NOW()
        WHERE id = $4 AND status NOT IN ('APPLIED', 'FAILED')
    `
	_, err := r.db.Exec(ctx, query, string(status), result, errMsg, id)
	return err
}

// FindExecutedAction returns a single action record.
func (r *LedgerRepository) FindExecutedAction(ctx context.Context, id int64) (*model.ExecutedAction, error) {
	query := `
        SELECT id, executed_rule_id, action_id, type, status, scheduled_for, result, error, created_at, updated_at
        FROM executed_actions
        WHERE id = $1
    `
	var ea model.ExecutedAction
	var actionType, status string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ea.ID,
		&ea.ExecutedRuleID,
		&ea.ActionID,
		&actionType,
		&status,
		&ea.ScheduledFor,
		&ea.Result,
		&ea.Error,
		&ea.CreatedAt,
		&ea.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ea.Type = model.ActionType(actionType)
	ea.Status = model.ExecutedActionStatus(status)
	return &ea, nil
}

// ListByMessage returns every matching attempt recorded for a message.
func (r *LedgerRepository) ListByMessage(ctx context.Context, accountID int64, messageID string) ([]model.ExecutedRule, error) {
	query := `
        SELECT id, account_id, message_id, thread_id, attempt, rule_id, status, reasons, rationale, created_at, updated_at
        FROM executed_rules
        WHERE account_id = $1 AND message_id = $2
        ORDER BY attempt ASC
    `
	rows, err := r.db.Query(ctx, query, accountID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutedRules(rows)
}

// ListByRule returns executed-rule records for one rule, newest first, paginated.
func (r *LedgerRepository) ListByRule(ctx context.Context, accountID, ruleID int64, limit, offset int) ([]model.ExecutedRule, error) {
	query := `
        SELECT id, account_id, message_id, thread_id, attempt, rule_id, status, reasons, rationale, created_at, updated_at
        FROM executed_rules
        WHERE account_id = $1 AND rule_id = $2
        ORDER BY created_at DESC
        LIMIT $3 OFFSET $4
    `
	rows, err := r.db.Query(ctx, query, accountID, ruleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutedRules(rows)
}

// ListUnrouted returns messages no rule claimed, for diagnostics.
func (r *LedgerRepository) ListUnrouted(ctx context.Context, accountID int64, limit, offset int) ([]model.ExecutedRule, error) {
	query := `
        SELECT id, account_id, message_id, thread_id, attempt, rule_id, status, reasons, rationale, created_at, updated_at
        FROM executed_rules
        WHERE account_id = $1 AND rule_id IS NULL AND status = 'SKIPPED'
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutedRules(rows)
}

// ListActions returns the action records under one executed rule, in order.
func (r *LedgerRepository) ListActions(ctx context.Context, executedRuleID int64) ([]model.ExecutedAction, error) {
	query := `
        SELECT id, executed_rule_id, action_id, type, status, scheduled_for, result, error, created_at, updated_at
        FROM executed_actions
        WHERE executed_rule_id = $1
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, query, executedRuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []model.ExecutedAction{}
	for rows.Next() {
		var ea model.ExecutedAction
		var actionType, status string
		err := rows.Scan(
			&ea.ID,
			&ea.ExecutedRuleID,
			&ea.ActionID,
			&actionType,
			&status,
			&ea.ScheduledFor,
			&ea.Result,
			&ea.Error,
			&ea.CreatedAt,
			&ea.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		ea.Type = model.ActionType(actionType)
		ea.Status = model.ExecutedActionStatus(status)
		actions = append(actions, ea)
	}
	return actions, rows.Err()
}

type executedRuleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanExecutedRules(rows executedRuleRows) ([]model.ExecutedRule, error) {
	records := []model.ExecutedRule{}
	for rows.Next() {
		var er model.ExecutedRule
		var status string
		var reasons []string
		err := rows.Scan(
			&er.ID,
			&er.AccountID,
			&er.MessageID,
			&er.ThreadID,
			&er.Attempt,
			&er.RuleID,
			&status,
			&reasons,
			&er.Rationale,
			&er.CreatedAt,
			&er.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		er.Status = model.ExecutedRuleStatus(status)
		for _, reason := range reasons {
			er.Reasons = append(er.Reasons, model.MatchReason(reason))
		}
		records = append(records, er)
	}
	return records, rows.Err()
}
