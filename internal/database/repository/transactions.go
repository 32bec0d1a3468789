package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID  string
	CategoryID string
	Type       string
	From       time.Time // zero = unbounded
	To         time.Time // exclusive; zero = unbounded
	Search     string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	q DBTX
}

func NewTransactionRepo(q DBTX) *TransactionRepo { return &TransactionRepo{q: q} }

const transactionCols = `id, owner_id, account_id, to_account_id, category_id, type, amount, date, description, is_recurring, recurring_id, loan_id, emi_schedule_id, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO transactions(`+transactionCols+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		t.ID, t.OwnerID, t.AccountID, t.ToAccountID, t.CategoryID, t.Type, t.Amount, t.Date,
		t.Description, t.IsRecurring, t.RecurringID, t.LoanID, t.EMIScheduleID, t.CreatedAt, t.UpdatedAt)
	return err
}

// Upsert writes the full row by id; used when applying remote changes.
func (r *TransactionRepo) Upsert(ctx context.Context, t Transaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO transactions(`+transactionCols+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 account_id=excluded.account_id,
	 to_account_id=excluded.to_account_id,
	 category_id=excluded.category_id,
	 type=excluded.type,
	 amount=excluded.amount,
	 date=excluded.date,
	 description=excluded.description,
	 is_recurring=excluded.is_recurring,
	 recurring_id=excluded.recurring_id,
	 loan_id=excluded.loan_id,
	 emi_schedule_id=excluded.emi_schedule_id,
	 updated_at=excluded.updated_at;
	`,
		t.ID, t.OwnerID, t.AccountID, t.ToAccountID, t.CategoryID, t.Type, t.Amount, t.Date,
		t.Description, t.IsRecurring, t.RecurringID, t.LoanID, t.EMIScheduleID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TransactionRepo) Update(ctx context.Context, t Transaction) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE transactions SET
	 account_id = ?, to_account_id = ?, category_id = ?, type = ?, amount = ?,
	 date = ?, description = ?, is_recurring = ?, recurring_id = ?, loan_id = ?,
	 emi_schedule_id = ?, updated_at = ?
	WHERE id = ?`,
		t.AccountID, t.ToAccountID, t.CategoryID, t.Type, t.Amount,
		t.Date, t.Description, t.IsRecurring, t.RecurringID, t.LoanID,
		t.EMIScheduleID, t.UpdatedAt, t.ID)
	return err
}

func (r *TransactionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) List(ctx context.Context, ownerID string, f TransactionFilters) ([]Transaction, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, f.To)
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := "SELECT " + transactionCols + " FROM transactions WHERE " + strings.Join(where, " AND ") +
		" ORDER BY date DESC, created_at DESC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByAccount returns every transaction touching the account in creation
// order; used to replay balances when verifying the balance invariant.
func (r *TransactionRepo) ListByAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+transactionCols+` FROM transactions
	 WHERE account_id = ? OR to_account_id = ? ORDER BY created_at, id`, accountID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumForBudget totals signed expense amounts matching the budget's category
// inside [from, to). Uncategorized budgets cover every expense.
func (r *TransactionRepo) SumForBudget(ctx context.Context, ownerID string, categoryID *string, from, to time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE owner_id = ? AND type = 'expense' AND date >= ? AND date < ?`
	args := []any{ownerID, from, to}
	if categoryID != nil {
		query += ` AND category_id = ?`
		args = append(args, *categoryID)
	}
	var total int64
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

func (r *TransactionRepo) AttachTag(ctx context.Context, transactionID, tagID string) error {
	_, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO transaction_tags(transaction_id, tag_id) VALUES(?, ?)`, transactionID, tagID)
	return err
}

func (r *TransactionRepo) RemoveTag(ctx context.Context, transactionID, tagID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ? AND tag_id = ?`, transactionID, tagID)
	return err
}

func (r *TransactionRepo) FetchTags(ctx context.Context, transactionID string) ([]Tag, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT t.id, t.owner_id, t.name, t.created_at, t.updated_at
	 FROM tags t JOIN transaction_tags tt ON tt.tag_id = t.id
	 WHERE tt.transaction_id = ? ORDER BY t.name`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var toAccount, category, recurring, loan, emiSchedule sql.NullString
	if err := row.Scan(&t.ID, &t.OwnerID, &t.AccountID, &toAccount, &category, &t.Type,
		&t.Amount, &t.Date, &t.Description, &t.IsRecurring, &recurring, &loan,
		&emiSchedule, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.ToAccountID = strPtr(toAccount)
	t.CategoryID = strPtr(category)
	t.RecurringID = strPtr(recurring)
	t.LoanID = strPtr(loan)
	t.EMIScheduleID = strPtr(emiSchedule)
	return t, nil
}
