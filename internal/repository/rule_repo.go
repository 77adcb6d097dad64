package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListForAccount returns the account's rules with their actions, ordered by
// position. Position order is the only precedence the matcher honors.
func (r *RuleRepository) ListForAccount(ctx context.Context, accountID int64) ([]model.Rule, error) {
	query := `
        SELECT id, account_id, name, instructions, position, enabled, automate,
               system_type, group_id, category_ids,
               cond_from, cond_to, cond_subject, cond_body,
               created_at, updated_at
        FROM rules
        WHERE account_id = $1
        ORDER BY position ASC
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []model.Rule{}
	index := map[int64]int{}

	for rows.Next() {
		var rule model.Rule
		var systemType *string
		err := rows.Scan(
			&rule.ID,
			&rule.AccountID,
			&rule.Name,
			&rule.Instructions,
			&rule.Position,
			&rule.Enabled,
			&rule.Automate,
			&systemType,
			&rule.GroupID,
			&rule.CategoryIDs,
			&rule.From,
			&rule.To,
			&rule.Subject,
			&rule.Body,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if systemType != nil {
			st := model.SystemType(*systemType)
			rule.SystemType = &st
		}
		index[rule.ID] = len(rules)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return rules, nil
	}

	actions, err := r.listActions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if i, ok := index[a.RuleID]; ok {
			rules[i].Actions = append(rules[i].Actions, a)
		}
	}

	return rules, nil
}

func (r *RuleRepository) listActions(ctx context.Context, accountID int64) ([]model.Action, error) {
	query := `
        SELECT a.id, a.rule_id, a.type, a.enabled,
               a.label, a.content, a.to_address, a.subject, a.url, a.delay_in_minutes
        FROM actions a
        JOIN rules r ON r.id = a.rule_id
        WHERE r.account_id = $1
        ORDER BY a.rule_id ASC, a.id ASC
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []model.Action{}
	for rows.Next() {
		var a model.Action
		var actionType string
		err := rows.Scan(
			&a.ID,
			&a.RuleID,
			&actionType,
			&a.Enabled,
			&a.Label,
			&a.Content,
			&a.To,
			&a.Subject,
			&a.URL,
			&a.DelayInMinutes,
		)
		if err != nil {
			return nil, err
		}
		a.Type = model.ActionType(actionType)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// FindAction returns a single action joined with its parent rule's account.
func (r *RuleRepository) FindAction(ctx context.Context, actionID int64) (*model.Action, error) {
	query := `
        SELECT id, rule_id, type, enabled, label, content, to_address, subject, url, delay_in_minutes
        FROM actions
        WHERE id = $1
    `
	var a model.Action
	var actionType string
	err := r.db.QueryRow(ctx, query, actionID).Scan(
		&a.ID,
		&a.RuleID,
		&actionType,
		&a.Enabled,
		&a.Label,
		&a.Content,
		&a.To,
		&a.Subject,
		&a.URL,
		&a.DelayInMinutes,
	)
	if err != nil {
		return nil, err
	}
	a.Type = model.ActionType(actionType)
	return &a, nil
}
