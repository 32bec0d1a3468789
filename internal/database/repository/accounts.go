package repository

import (
	"context"
	"database/sql"
	"time"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	q DBTX
}

func NewAccountRepo(q DBTX) *AccountRepo { return &AccountRepo{q: q} }

const accountCols = `id, owner_id, name, type, balance, currency, is_archived, sort_order, created_at, updated_at`

func (r *AccountRepo) Insert(ctx context.Context, a Account) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO accounts(`+accountCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, a.ID, a.OwnerID, a.Name, a.Type, a.Balance, a.Currency, a.IsArchived, a.SortOrder, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO accounts(`+accountCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 type=excluded.type,
	 balance=excluded.balance,
	 currency=excluded.currency,
	 is_archived=excluded.is_archived,
	 sort_order=excluded.sort_order,
	 updated_at=excluded.updated_at;
	`, a.ID, a.OwnerID, a.Name, a.Type, a.Balance, a.Currency, a.IsArchived, a.SortOrder, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) List(ctx context.Context, ownerID string) ([]Account, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE owner_id = ? ORDER BY sort_order, name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdjustBalance applies a signed delta to the cached balance. Only the
// mutation engine calls this, always inside a transaction that also writes
// the transaction row producing the delta.
func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64, updatedAt time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`, delta, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetBalance overwrites the cached balance with a value recomputed from
// source transaction rows; used when applying remote changes.
func (r *AccountRepo) SetBalance(ctx context.Context, id string, balance int64, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`, balance, updatedAt, id)
	return err
}

func (r *AccountRepo) SetArchived(ctx context.Context, id string, archived bool, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE accounts SET is_archived = ?, updated_at = ? WHERE id = ?`, archived, updatedAt, id)
	return err
}

func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

// TransactionCount reports how many transaction rows reference the account
// as source or destination; used by the guarded delete.
func (r *AccountRepo) TransactionCount(ctx context.Context, id string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = ? OR to_account_id = ?`, id, id).Scan(&n)
	return n, err
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.Balance, &a.Currency,
		&a.IsArchived, &a.SortOrder, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	return a, nil
}
