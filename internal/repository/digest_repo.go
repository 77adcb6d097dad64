package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

type DigestRepository struct {
	db *pgxpool.Pool
}

func NewDigestRepository(db *pgxpool.Pool) *DigestRepository {
	return &DigestRepository{db: db}
}

// Append stores one digest fragment. 以 (executed_rule, message) 幂等：同一次
// 执行的重试不会重复累积片段。
func (r *DigestRepository) Append(ctx context.Context, item *model.DigestItem) error {
	query := `
        INSERT INTO digest_items (account_id, rule_id, message_id, summary, window_start, status, created_at)
        VALUES ($1, $2, $3, $4, $5, 'PENDING', NOW())
        ON CONFLICT (account_id, rule_id, message_id, window_start) DO NOTHING
    `
	_, err := r.db.Exec(ctx, query,
		item.AccountID,
		item.RuleID,
		item.MessageID,
		item.Summary,
		item.WindowStart,
	)
	return err
}

// DigestWindow 一个待发送的摘要窗口
type DigestWindow struct {
	AccountID   int64
	WindowStart time.Time
	ItemCount   int
}

// ListClosedWindows returns (account, window) pairs whose window ended before
// the cutoff and still hold pending items.
func (r *DigestRepository) ListClosedWindows(ctx context.Context, cutoff time.Time) ([]DigestWindow, error) {
	query := `
        SELECT account_id, window_start, COUNT(*)
        FROM digest_items
        WHERE status = 'PENDING' AND window_start < $1
        GROUP BY account_id, window_start
        ORDER BY window_start ASC
    `
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []DigestWindow
	for rows.Next() {
		var w DigestWindow
		if err := rows.Scan(&w.AccountID, &w.WindowStart, &w.ItemCount); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// ListPendingItems returns the pending fragments of one window in arrival order.
func (r *DigestRepository) ListPendingItems(ctx context.Context, accountID int64, windowStart time.Time) ([]model.DigestItem, error) {
	query := `
        SELECT id, account_id, rule_id, message_id, summary, window_start, status, created_at
        FROM digest_items
        WHERE account_id = $1 AND window_start = $2 AND status = 'PENDING'
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, accountID, windowStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.DigestItem
	for rows.Next() {
		var item model.DigestItem
		var status string
		err := rows.Scan(
			&item.ID,
			&item.AccountID,
			&item.RuleID,
			&item.MessageID,
			&item.Summary,
			&item.WindowStart,
			&status,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		item.Status = model.DigestItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSent marks a window's pending items sent.
func (r *DigestRepository) MarkSent(ctx context.Context, accountID int64, windowStart time.Time) error {
	query := `
        UPDATE digest_items
        SET status = 'SENT'
        WHERE account_id = $1 AND window_start = $2 AND status = 'PENDING'
    `
	_, err := r.db.Exec(ctx, query, accountID, windowStart)
	return err
}
