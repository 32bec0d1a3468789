package repository

import (
	"context"
	"database/sql"
)

// SettingsRepo handles the per-owner settings row.
type SettingsRepo struct {
	q DBTX
}

func NewSettingsRepo(q DBTX) *SettingsRepo { return &SettingsRepo{q: q} }

const settingsCols = `id, owner_id, currency, data, created_at, updated_at`

func (r *SettingsRepo) Upsert(ctx context.Context, s Settings) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO settings(`+settingsCols+`)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
	 currency=excluded.currency,
	 data=excluded.data,
	 updated_at=excluded.updated_at;
	`, s.ID, s.OwnerID, s.Currency, s.Data, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *SettingsRepo) GetByOwner(ctx context.Context, ownerID string) (*Settings, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM settings WHERE owner_id = ?`, ownerID)
	var s Settings
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Currency, &s.Data, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepo) List(ctx context.Context) ([]Settings, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+settingsCols+` FROM settings ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Settings
	for rows.Next() {
		var s Settings
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Currency, &s.Data, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NotificationRepo handles notification rows; delivery is out of scope.
type NotificationRepo struct {
	q DBTX
}

func NewNotificationRepo(q DBTX) *NotificationRepo { return &NotificationRepo{q: q} }

const notificationCols = `id, owner_id, title, body, is_read, created_at, updated_at`

func (r *NotificationRepo) Upsert(ctx context.Context, n Notification) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO notifications(`+notificationCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 title=excluded.title,
	 body=excluded.body,
	 is_read=excluded.is_read,
	 updated_at=excluded.updated_at;
	`, n.ID, n.OwnerID, n.Title, n.Body, n.IsRead, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r *NotificationRepo) List(ctx context.Context, ownerID string) ([]Notification, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsightRepo handles precomputed analytics blobs.
type InsightRepo struct {
	q DBTX
}

func NewInsightRepo(q DBTX) *InsightRepo { return &InsightRepo{q: q} }

const insightCols = `id, owner_id, kind, period, data, created_at, updated_at`

func (r *InsightRepo) Upsert(ctx context.Context, i Insight) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO insights(`+insightCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 kind=excluded.kind,
	 period=excluded.period,
	 data=excluded.data,
	 updated_at=excluded.updated_at;
	`, i.ID, i.OwnerID, i.Kind, i.Period, i.Data, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r *InsightRepo) List(ctx context.Context, ownerID string) ([]Insight, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+insightCols+` FROM insights WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Insight
	for rows.Next() {
		var i Insight
		if err := rows.Scan(&i.ID, &i.OwnerID, &i.Kind, &i.Period, &i.Data, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
