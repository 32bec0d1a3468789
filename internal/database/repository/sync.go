package repository

import (
	"context"
	"database/sql"
	"time"
)

// SyncRepo handles the change log, conflicts and the sync checkpoint.
type SyncRepo struct {
	q DBTX
}

func NewSyncRepo(q DBTX) *SyncRepo { return &SyncRepo{q: q} }

// AppendChange appends one row to the change log. The engine calls this
// inside the same transaction as the mutation it records, so a rolled-back
// mutation leaves no log entry.
func (r *SyncRepo) AppendChange(ctx context.Context, c SyncChange) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO sync_changes(id, entity_type, entity_id, operation, data, client_timestamp, server_timestamp, pushed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, c.ID, c.EntityType, c.EntityID, c.Operation, c.Data, c.ClientTimestamp, c.ServerTimestamp, c.Pushed)
	return err
}

// PendingChanges returns unpushed changes in client-commit order.
func (r *SyncRepo) PendingChanges(ctx context.Context) ([]SyncChange, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT seq, id, entity_type, entity_id, operation, data, client_timestamp, server_timestamp, pushed
	FROM sync_changes WHERE pushed = 0 ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SyncChange
	for rows.Next() {
		var c SyncChange
		var server sql.NullTime
		if err := rows.Scan(&c.Seq, &c.ID, &c.EntityType, &c.EntityID, &c.Operation, &c.Data,
			&c.ClientTimestamp, &server, &c.Pushed); err != nil {
			return nil, err
		}
		c.ServerTimestamp = timePtr(server)
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkPushed stamps the server timestamp onto the given change ids.
func (r *SyncRepo) MarkPushed(ctx context.Context, ids []string, serverTimestamp time.Time) error {
	for _, id := range ids {
		if _, err := r.q.ExecContext(ctx,
			`UPDATE sync_changes SET pushed = 1, server_timestamp = ? WHERE id = ?`,
			serverTimestamp, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SyncRepo) InsertConflict(ctx context.Context, c SyncConflict) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO sync_conflicts(id, entity_type, entity_id, local_change, server_change, resolution, resolved, created_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING;
	`, c.ID, c.EntityType, c.EntityID, c.LocalChange, c.ServerChange, c.Resolution, c.Resolved, c.CreatedAt, c.ResolvedAt)
	return err
}

func (r *SyncRepo) GetConflict(ctx context.Context, id string) (*SyncConflict, error) {
	row := r.q.QueryRowContext(ctx, `
	SELECT id, entity_type, entity_id, local_change, server_change, resolution, resolved, created_at, resolved_at
	FROM sync_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// UnresolvedConflicts returns conflicts still awaiting a resolution choice.
func (r *SyncRepo) UnresolvedConflicts(ctx context.Context) ([]SyncConflict, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT id, entity_type, entity_id, local_change, server_change, resolution, resolved, created_at, resolved_at
	FROM sync_conflicts WHERE resolved = 0 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SyncRepo) MarkConflictResolved(ctx context.Context, id, resolution string, resolvedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE sync_conflicts SET resolved = 1, resolution = ?, resolved_at = ? WHERE id = ?`,
		resolution, resolvedAt, id)
	return err
}

// LastSyncTimestamp returns the stored checkpoint, or the zero time when the
// store has never synced.
func (r *SyncRepo) LastSyncTimestamp(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	err := r.q.QueryRowContext(ctx, `SELECT last_sync_timestamp FROM sync_state WHERE id = 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func (r *SyncRepo) SetLastSyncTimestamp(ctx context.Context, ts time.Time, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO sync_state(id, last_sync_timestamp, updated_at)
	VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 last_sync_timestamp=excluded.last_sync_timestamp,
	 updated_at=excluded.updated_at;
	`, ts, updatedAt)
	return err
}

// ClearLastSyncTimestamp discards the checkpoint; used by full sync.
func (r *SyncRepo) ClearLastSyncTimestamp(ctx context.Context, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO sync_state(id, last_sync_timestamp, updated_at)
	VALUES (1, NULL, ?)
	ON CONFLICT(id) DO UPDATE SET
	 last_sync_timestamp=NULL,
	 updated_at=excluded.updated_at;
	`, updatedAt)
	return err
}

func scanConflict(row scanner) (SyncConflict, error) {
	var c SyncConflict
	var resolution sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.LocalChange, &c.ServerChange,
		&resolution, &c.Resolved, &c.CreatedAt, &resolvedAt); err != nil {
		return SyncConflict{}, err
	}
	c.Resolution = strPtr(resolution)
	c.ResolvedAt = timePtr(resolvedAt)
	return c, nil
}
