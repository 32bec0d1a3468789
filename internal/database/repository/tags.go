package repository

import (
	"context"
	"database/sql"
)

// TagRepo handles tags.
type TagRepo struct {
	q DBTX
}

func NewTagRepo(q DBTX) *TagRepo { return &TagRepo{q: q} }

const tagCols = `id, owner_id, name, created_at, updated_at`

func (r *TagRepo) Upsert(ctx context.Context, t Tag) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO tags(`+tagCols+`)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 updated_at=excluded.updated_at;
	`, t.ID, t.OwnerID, t.Name, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TagRepo) Get(ctx context.Context, id string) (*Tag, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+tagCols+` FROM tags WHERE id = ?`, id)
	var t Tag
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TagRepo) List(ctx context.Context, ownerID string) ([]Tag, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+tagCols+` FROM tags WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TagRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	return err
}
