package repository

import (
	"context"
	"database/sql"
	"time"
)

// GoalRepo handles goals and their contributions.
type GoalRepo struct {
	q DBTX
}

func NewGoalRepo(q DBTX) *GoalRepo { return &GoalRepo{q: q} }

const goalCols = `id, owner_id, name, target_amount, current_amount, target_date, status, created_at, updated_at`

func (r *GoalRepo) Insert(ctx context.Context, g Goal) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO goals(`+goalCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, g.ID, g.OwnerID, g.Name, g.TargetAmount, g.CurrentAmount, g.TargetDate, g.Status, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r *GoalRepo) Upsert(ctx context.Context, g Goal) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO goals(`+goalCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 target_amount=excluded.target_amount,
	 current_amount=excluded.current_amount,
	 target_date=excluded.target_date,
	 status=excluded.status,
	 updated_at=excluded.updated_at;
	`, g.ID, g.OwnerID, g.Name, g.TargetAmount, g.CurrentAmount, g.TargetDate, g.Status, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r *GoalRepo) Get(ctx context.Context, id string) (*Goal, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (r *GoalRepo) List(ctx context.Context, ownerID string) ([]Goal, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+goalCols+` FROM goals WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetProgress writes the recomputed aggregate and status together.
func (r *GoalRepo) SetProgress(ctx context.Context, id string, currentAmount int64, status string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE goals SET current_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		currentAmount, status, updatedAt, id)
	return err
}

// Delete removes the goal; contribution rows cascade.
func (r *GoalRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	return err
}

const contributionCols = `id, goal_id, amount, note, date, created_at, updated_at`

func (r *GoalRepo) InsertContribution(ctx context.Context, c GoalContribution) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO goal_contributions(`+contributionCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`, c.ID, c.GoalID, c.Amount, c.Note, c.Date, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *GoalRepo) UpsertContribution(ctx context.Context, c GoalContribution) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO goal_contributions(`+contributionCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 goal_id=excluded.goal_id,
	 amount=excluded.amount,
	 note=excluded.note,
	 date=excluded.date,
	 updated_at=excluded.updated_at;
	`, c.ID, c.GoalID, c.Amount, c.Note, c.Date, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *GoalRepo) GetContribution(ctx context.Context, id string) (*GoalContribution, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contributionCols+` FROM goal_contributions WHERE id = ?`, id)
	var c GoalContribution
	var note sql.NullString
	if err := row.Scan(&c.ID, &c.GoalID, &c.Amount, &note, &c.Date, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Note = strPtr(note)
	return &c, nil
}

func (r *GoalRepo) DeleteContribution(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM goal_contributions WHERE id = ?`, id)
	return err
}

func (r *GoalRepo) ListContributions(ctx context.Context, goalID string) ([]GoalContribution, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+contributionCols+` FROM goal_contributions WHERE goal_id = ? ORDER BY created_at, id`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GoalContribution
	for rows.Next() {
		var c GoalContribution
		var note sql.NullString
		if err := rows.Scan(&c.ID, &c.GoalID, &c.Amount, &note, &c.Date, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Note = strPtr(note)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumContributions is the source of truth for Goal.CurrentAmount.
func (r *GoalRepo) SumContributions(ctx context.Context, goalID string) (int64, error) {
	var total int64
	err := r.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM goal_contributions WHERE goal_id = ?`, goalID).Scan(&total)
	return total, err
}

func scanGoal(row scanner) (Goal, error) {
	var g Goal
	var target sql.NullTime
	if err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &g.TargetAmount, &g.CurrentAmount,
		&target, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return Goal{}, err
	}
	g.TargetDate = timePtr(target)
	return g, nil
}
