package repository

import (
	"context"
	"database/sql"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	q DBTX
}

func NewCategoryRepo(q DBTX) *CategoryRepo { return &CategoryRepo{q: q} }

const categoryCols = `id, owner_id, name, type, icon, is_system, is_archived, sort_order, created_at, updated_at`

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO categories(`+categoryCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 type=excluded.type,
	 icon=excluded.icon,
	 is_system=excluded.is_system,
	 is_archived=excluded.is_archived,
	 sort_order=excluded.sort_order,
	 updated_at=excluded.updated_at;
	`, c.ID, c.OwnerID, c.Name, c.Type, c.Icon, c.IsSystem, c.IsArchived, c.SortOrder, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CategoryRepo) Get(ctx context.Context, id string) (*Category, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CategoryRepo) List(ctx context.Context, ownerID string) ([]Category, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE owner_id = ? ORDER BY sort_order, name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CategoryRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	return err
}

func (r *CategoryRepo) TransactionCount(ctx context.Context, id string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE category_id = ?`, id).Scan(&n)
	return n, err
}

func scanCategory(row scanner) (Category, error) {
	var c Category
	var icon sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &icon, &c.IsSystem,
		&c.IsArchived, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Category{}, err
	}
	c.Icon = strPtr(icon)
	return c, nil
}
