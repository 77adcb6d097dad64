package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

// ScheduledActionRepository 延迟动作的调度表（outbox 模式）。
// scheduler 轮询到期的行并发布 action.due 事件，发布失败按退避重试。
type ScheduledActionRepository struct {
	db *pgxpool.Pool
}

func NewScheduledActionRepository(db *pgxpool.Pool) *ScheduledActionRepository {
	return &ScheduledActionRepository{db: db}
}

// Enqueue inserts a scheduled action row. 以 executed_action_id 幂等：
// 同一动作记录的重复排期只落一行。
func (r *ScheduledActionRepository) Enqueue(ctx context.Context, sa *model.ScheduledAction) error {
	query := `
        INSERT INTO scheduled_actions
            (account_id, executed_action_id, message_id, thread_id, run_at, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, 'PENDING', NOW(), NOW())
        ON CONFLICT (executed_action_id) DO UPDATE SET updated_at = NOW()
        RETURNING id, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		sa.AccountID,
		sa.ExecutedActionID,
		sa.MessageID,
		sa.ThreadID,
		sa.RunAt,
	).Scan(&sa.ID, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue scheduled action: %w", err)
	}
	sa.Status = model.ScheduledActionPending
	return nil
}

// Cancel marks a not-yet-published row cancelled and returns the executed
// action it carried. Once published the action runs to completion; Cancel then
// reports pgx.ErrNoRows.
func (r *ScheduledActionRepository) Cancel(ctx context.Context, accountID, id int64) (int64, error) {
	query := `
        UPDATE scheduled_actions
        SET status = 'CANCELLED', updated_at = NOW()
        WHERE id = $1 AND account_id = $2 AND status = 'PENDING'
        RETURNING executed_action_id
    `
	var executedActionID int64
	if err := r.db.QueryRow(ctx, query, id, accountID).Scan(&executedActionID); err != nil {
		return 0, err
	}
	return executedActionID, nil
}

// ListDue returns pending rows whose run_at has passed (bounded batch).
func (r *ScheduledActionRepository) ListDue(ctx context.Context, limit int) ([]model.ScheduledAction, error) {
	query := `
        SELECT id, account_id, executed_action_id, message_id, thread_id, run_at,
               status, retry_count, next_retry_at, created_at, updated_at
        FROM scheduled_actions
        WHERE status = 'PENDING'
        AND run_at <= NOW()
        AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY run_at ASC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled actions: %w", err)
	}
	defer rows.Close()

	var due []model.ScheduledAction
	for rows.Next() {
		var sa model.ScheduledAction
		var status string
		err := rows.Scan(
			&sa.ID,
			&sa.AccountID,
			&sa.ExecutedActionID,
			&sa.MessageID,
			&sa.ThreadID,
			&sa.RunAt,
			&status,
			&sa.RetryCount,
			&sa.NextRetryAt,
			&sa.CreatedAt,
			&sa.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled action: %w", err)
		}
		sa.Status = model.ScheduledActionStatus(status)
		due = append(due, sa)
	}
	return due, rows.Err()
}

// MarkPublished marks a row as handed off to the queue.
func (r *ScheduledActionRepository) MarkPublished(ctx context.Context, id int64) error {
	query := `
        UPDATE scheduled_actions
        SET status = 'PUBLISHED', updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// MarkPublishFailed bumps the retry counter and schedules the next attempt.
// 退避：5s, 10s, 15s...
func (r *ScheduledActionRepository) MarkPublishFailed(ctx context.Context, id int64) error {
	var retryCount int
	err := r.db.QueryRow(ctx, `
        SELECT retry_count FROM scheduled_actions WHERE id = $1
    `, id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	nextRetry := time.Now().Add(time.Duration(retryCount) * 5 * time.Second)

	query := `
        UPDATE scheduled_actions
        SET retry_count = $1, next_retry_at = $2, updated_at = NOW()
        WHERE id = $3
    `
	_, err = r.db.Exec(ctx, query, retryCount, nextRetry, id)
	if err != nil {
		return fmt.Errorf("failed to mark publish failure: %w", err)
	}
	return nil
}
