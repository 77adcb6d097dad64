package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

type ThreadTrackerRepository struct {
	db *pgxpool.Pool
}

func NewThreadTrackerRepository(db *pgxpool.Pool) *ThreadTrackerRepository {
	return &ThreadTrackerRepository{db: db}
}

// Upsert creates or refreshes the tracking record for a thread. TRACK_THREAD
// 动作只更新这张表，不动邮箱。
func (r *ThreadTrackerRepository) Upsert(ctx context.Context, t *model.ThreadTracker) error {
	query := `
        INSERT INTO thread_trackers
            (account_id, thread_id, rule_id, state, last_message_id, resolved, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, false, NOW(), NOW())
        ON CONFLICT (account_id, thread_id)
        DO UPDATE SET
            state = EXCLUDED.state,
            last_message_id = EXCLUDED.last_message_id,
            resolved = false,
            updated_at = NOW()
        RETURNING id, created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		t.AccountID,
		t.ThreadID,
		t.RuleID,
		string(t.State),
		t.LastMessageID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// Resolve marks a tracked thread as answered.
func (r *ThreadTrackerRepository) Resolve(ctx context.Context, accountID int64, threadID string) error {
	query := `
        UPDATE thread_trackers
        SET resolved = true, updated_at = NOW()
        WHERE account_id = $1 AND thread_id = $2
    `
	_, err := r.db.Exec(ctx, query, accountID, threadID)
	return err
}

// ListUnresolved returns open tracking records for an account.
func (r *ThreadTrackerRepository) ListUnresolved(ctx context.Context, accountID int64) ([]model.ThreadTracker, error) {
	query := `
        SELECT id, account_id, thread_id, rule_id, state, last_message_id, resolved, created_at, updated_at
        FROM thread_trackers
        WHERE account_id = $1 AND resolved = false
        ORDER BY updated_at DESC
    `
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trackers []model.ThreadTracker
	for rows.Next() {
		var t model.ThreadTracker
		var state string
		err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.ThreadID,
			&t.RuleID,
			&state,
			&t.LastMessageID,
			&t.Resolved,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		t.State = model.ThreadTrackerState(state)
		trackers = append(trackers, t)
	}
	return trackers, rows.Err()
}
