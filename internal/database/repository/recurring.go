package repository

import (
	"context"
	"database/sql"
	"time"
)

// RecurringRepo handles recurring-transaction rules.
type RecurringRepo struct {
	q DBTX
}

func NewRecurringRepo(q DBTX) *RecurringRepo { return &RecurringRepo{q: q} }

const recurringCols = `id, owner_id, account_id, to_account_id, category_id, type, amount, description, frequency, start_date, next_occurrence, end_date, last_created_date, total_created, is_active, created_at, updated_at`

func (r *RecurringRepo) Insert(ctx context.Context, rt RecurringTransaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO recurring_transactions(`+recurringCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, rt.ID, rt.OwnerID, rt.AccountID, rt.ToAccountID, rt.CategoryID, rt.Type, rt.Amount,
		rt.Description, rt.Frequency, rt.StartDate, rt.NextOccurrence, rt.EndDate,
		rt.LastCreatedDate, rt.TotalCreated, rt.IsActive, rt.CreatedAt, rt.UpdatedAt)
	return err
}

func (r *RecurringRepo) Upsert(ctx context.Context, rt RecurringTransaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO recurring_transactions(`+recurringCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 account_id=excluded.account_id,
	 to_account_id=excluded.to_account_id,
	 category_id=excluded.category_id,
	 type=excluded.type,
	 amount=excluded.amount,
	 description=excluded.description,
	 frequency=excluded.frequency,
	 start_date=excluded.start_date,
	 next_occurrence=excluded.next_occurrence,
	 end_date=excluded.end_date,
	 last_created_date=excluded.last_created_date,
	 total_created=excluded.total_created,
	 is_active=excluded.is_active,
	 updated_at=excluded.updated_at;
	`, rt.ID, rt.OwnerID, rt.AccountID, rt.ToAccountID, rt.CategoryID, rt.Type, rt.Amount,
		rt.Description, rt.Frequency, rt.StartDate, rt.NextOccurrence, rt.EndDate,
		rt.LastCreatedDate, rt.TotalCreated, rt.IsActive, rt.CreatedAt, rt.UpdatedAt)
	return err
}

func (r *RecurringRepo) Get(ctx context.Context, id string) (*RecurringTransaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+recurringCols+` FROM recurring_transactions WHERE id = ?`, id)
	rt, err := scanRecurring(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rt, nil
}

func (r *RecurringRepo) List(ctx context.Context, ownerID string) ([]RecurringTransaction, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+recurringCols+` FROM recurring_transactions WHERE owner_id = ? ORDER BY next_occurrence`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecurring(rows)
}

// ListDue returns active rules whose next occurrence has arrived.
func (r *RecurringRepo) ListDue(ctx context.Context, ownerID string, now time.Time) ([]RecurringTransaction, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT `+recurringCols+` FROM recurring_transactions
	WHERE owner_id = ? AND is_active = 1 AND next_occurrence <= ?
	ORDER BY next_occurrence`, ownerID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecurring(rows)
}

// Advance moves the schedule forward after a successful materialization.
func (r *RecurringRepo) Advance(ctx context.Context, id string, nextOccurrence, lastCreated time.Time, totalCreated int, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE recurring_transactions
	SET next_occurrence = ?, last_created_date = ?, total_created = ?, updated_at = ?
	WHERE id = ?`, nextOccurrence, lastCreated, totalCreated, updatedAt, id)
	return err
}

func (r *RecurringRepo) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE recurring_transactions SET is_active = ?, updated_at = ? WHERE id = ?`, active, updatedAt, id)
	return err
}

func (r *RecurringRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM recurring_transactions WHERE id = ?`, id)
	return err
}

func collectRecurring(rows *sql.Rows) ([]RecurringTransaction, error) {
	var out []RecurringTransaction
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func scanRecurring(row scanner) (RecurringTransaction, error) {
	var rt RecurringTransaction
	var toAccount, category sql.NullString
	var endDate, lastCreated sql.NullTime
	if err := row.Scan(&rt.ID, &rt.OwnerID, &rt.AccountID, &toAccount, &category, &rt.Type,
		&rt.Amount, &rt.Description, &rt.Frequency, &rt.StartDate, &rt.NextOccurrence,
		&endDate, &lastCreated, &rt.TotalCreated, &rt.IsActive, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return RecurringTransaction{}, err
	}
	rt.ToAccountID = strPtr(toAccount)
	rt.CategoryID = strPtr(category)
	rt.EndDate = timePtr(endDate)
	rt.LastCreatedDate = timePtr(lastCreated)
	return rt, nil
}
