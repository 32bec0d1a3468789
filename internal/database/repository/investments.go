package repository

import (
	"context"
	"database/sql"
	"time"
)

// InvestmentRepo handles investments and their transactions.
type InvestmentRepo struct {
	q DBTX
}

func NewInvestmentRepo(q DBTX) *InvestmentRepo { return &InvestmentRepo{q: q} }

const investmentCols = `id, owner_id, name, symbol, type, quantity, avg_buy_price, invested_amount, current_price, current_value, created_at, updated_at`

func (r *InvestmentRepo) Insert(ctx context.Context, inv Investment) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO investments(`+investmentCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, inv.ID, inv.OwnerID, inv.Name, inv.Symbol, inv.Type, inv.Quantity, inv.AvgBuyPrice,
		inv.InvestedAmount, inv.CurrentPrice, inv.CurrentValue, inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r *InvestmentRepo) Upsert(ctx context.Context, inv Investment) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO investments(`+investmentCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 symbol=excluded.symbol,
	 type=excluded.type,
	 quantity=excluded.quantity,
	 avg_buy_price=excluded.avg_buy_price,
	 invested_amount=excluded.invested_amount,
	 current_price=excluded.current_price,
	 current_value=excluded.current_value,
	 updated_at=excluded.updated_at;
	`, inv.ID, inv.OwnerID, inv.Name, inv.Symbol, inv.Type, inv.Quantity, inv.AvgBuyPrice,
		inv.InvestedAmount, inv.CurrentPrice, inv.CurrentValue, inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r *InvestmentRepo) Get(ctx context.Context, id string) (*Investment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+investmentCols+` FROM investments WHERE id = ?`, id)
	var inv Investment
	if err := row.Scan(&inv.ID, &inv.OwnerID, &inv.Name, &inv.Symbol, &inv.Type, &inv.Quantity,
		&inv.AvgBuyPrice, &inv.InvestedAmount, &inv.CurrentPrice, &inv.CurrentValue,
		&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *InvestmentRepo) List(ctx context.Context, ownerID string) ([]Investment, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+investmentCols+` FROM investments WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Investment
	for rows.Next() {
		var inv Investment
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.Name, &inv.Symbol, &inv.Type, &inv.Quantity,
			&inv.AvgBuyPrice, &inv.InvestedAmount, &inv.CurrentPrice, &inv.CurrentValue,
			&inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SetAggregates writes the holding aggregates the engine maintains.
func (r *InvestmentRepo) SetAggregates(ctx context.Context, id string, quantity float64, avgBuyPrice, investedAmount, currentPrice, currentValue int64, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE investments SET quantity = ?, avg_buy_price = ?, invested_amount = ?, current_price = ?, current_value = ?, updated_at = ?
	WHERE id = ?`, quantity, avgBuyPrice, investedAmount, currentPrice, currentValue, updatedAt, id)
	return err
}

func (r *InvestmentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM investments WHERE id = ?`, id)
	return err
}

func (r *InvestmentRepo) TransactionCount(ctx context.Context, id string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM investment_transactions WHERE investment_id = ?`, id).Scan(&n)
	return n, err
}

const investmentTxCols = `id, investment_id, type, quantity, price, amount, date, created_at, updated_at`

func (r *InvestmentRepo) InsertTransaction(ctx context.Context, t InvestmentTransaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO investment_transactions(`+investmentTxCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, t.ID, t.InvestmentID, t.Type, t.Quantity, t.Price, t.Amount, t.Date, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *InvestmentRepo) UpsertTransaction(ctx context.Context, t InvestmentTransaction) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO investment_transactions(`+investmentTxCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 investment_id=excluded.investment_id,
	 type=excluded.type,
	 quantity=excluded.quantity,
	 price=excluded.price,
	 amount=excluded.amount,
	 date=excluded.date,
	 updated_at=excluded.updated_at;
	`, t.ID, t.InvestmentID, t.Type, t.Quantity, t.Price, t.Amount, t.Date, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *InvestmentRepo) GetTransaction(ctx context.Context, id string) (*InvestmentTransaction, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+investmentTxCols+` FROM investment_transactions WHERE id = ?`, id)
	var t InvestmentTransaction
	if err := row.Scan(&t.ID, &t.InvestmentID, &t.Type, &t.Quantity, &t.Price, &t.Amount,
		&t.Date, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *InvestmentRepo) DeleteTransaction(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM investment_transactions WHERE id = ?`, id)
	return err
}

func (r *InvestmentRepo) ListTransactions(ctx context.Context, investmentID string) ([]InvestmentTransaction, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+investmentTxCols+` FROM investment_transactions WHERE investment_id = ? ORDER BY date, created_at`, investmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvestmentTransaction
	for rows.Next() {
		var t InvestmentTransaction
		if err := rows.Scan(&t.ID, &t.InvestmentID, &t.Type, &t.Quantity, &t.Price, &t.Amount,
			&t.Date, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
