package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpilot/internal/model"
)

type GroupRepository struct {
	db *pgxpool.Pool
}

func NewGroupRepository(db *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{db: db}
}

// FindByID returns the group with its items in declared order. 账号谓词
// 保证规则引用不到别的账号的组：跨账号引用按组不存在处理。
func (r *GroupRepository) FindByID(ctx context.Context, accountID, groupID int64) (*model.Group, error) {
	query := `
        SELECT id, account_id, name
        FROM groups
        WHERE id = $1 AND account_id = $2
    `
	var g model.Group
	err := r.db.QueryRow(ctx, query, groupID, accountID).Scan(&g.ID, &g.AccountID, &g.Name)
	if err != nil {
		return nil, err
	}

	itemQuery := `
        SELECT id, group_id, type, value, exclude
        FROM group_items
        WHERE group_id = $1
        ORDER BY id ASC
    `
	rows, err := r.db.Query(ctx, itemQuery, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item model.GroupItem
		var itemType string
		if err := rows.Scan(&item.ID, &item.GroupID, &itemType, &item.Value, &item.Exclude); err != nil {
			return nil, err
		}
		item.Type = model.GroupItemType(itemType)
		g.Items = append(g.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &g, nil
}
