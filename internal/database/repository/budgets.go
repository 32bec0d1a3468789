package repository

import (
	"context"
	"database/sql"
)

// BudgetRepo handles budgets. The spent aggregate is never stored; callers
// derive it with TransactionRepo.SumForBudget.
type BudgetRepo struct {
	q DBTX
}

func NewBudgetRepo(q DBTX) *BudgetRepo { return &BudgetRepo{q: q} }

const budgetCols = `id, owner_id, category_id, amount, period, start_date, end_date, created_at, updated_at`

func (r *BudgetRepo) Upsert(ctx context.Context, b Budget) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO budgets(`+budgetCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 category_id=excluded.category_id,
	 amount=excluded.amount,
	 period=excluded.period,
	 start_date=excluded.start_date,
	 end_date=excluded.end_date,
	 updated_at=excluded.updated_at;
	`, b.ID, b.OwnerID, b.CategoryID, b.Amount, b.Period, b.StartDate, b.EndDate, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *BudgetRepo) Get(ctx context.Context, id string) (*Budget, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BudgetRepo) List(ctx context.Context, ownerID string) ([]Budget, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *BudgetRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	return err
}

func scanBudget(row scanner) (Budget, error) {
	var b Budget
	var category sql.NullString
	var end sql.NullTime
	if err := row.Scan(&b.ID, &b.OwnerID, &category, &b.Amount, &b.Period, &b.StartDate,
		&end, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Budget{}, err
	}
	b.CategoryID = strPtr(category)
	b.EndDate = timePtr(end)
	return b, nil
}
