package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CategoryRepository struct {
	db *pgxpool.Pool
}

func NewCategoryRepository(db *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// CategoryForSender returns the category id assigned to the sender by the
// out-of-band categorization process, or (0, false) when the sender has not
// been categorized. Uncategorized senders never match a CATEGORY rule.
func (r *CategoryRepository) CategoryForSender(ctx context.Context, accountID int64, sender string) (int64, bool, error) {
	query := `
        SELECT category_id
        FROM sender_categories
        WHERE account_id = $1 AND sender = LOWER($2)
    `
	var categoryID int64
	err := r.db.QueryRow(ctx, query, accountID, sender).Scan(&categoryID)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return categoryID, true, nil
}
