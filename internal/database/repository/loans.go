package repository

import (
	"context"
	"database/sql"
	"time"
)

// LoanRepo handles loans, EMI schedules and EMI payments.
type LoanRepo struct {
	q DBTX
}

func NewLoanRepo(q DBTX) *LoanRepo { return &LoanRepo{q: q} }

const loanCols = `id, owner_id, name, lender, principal_amount, interest_rate, tenure_months, emi_amount, start_date, outstanding_principal, outstanding_interest, remaining_tenure, status, account_id, created_at, updated_at`

func (r *LoanRepo) Insert(ctx context.Context, l Loan) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO loans(`+loanCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, l.ID, l.OwnerID, l.Name, l.Lender, l.PrincipalAmount, l.InterestRate, l.TenureMonths,
		l.EMIAmount, l.StartDate, l.OutstandingPrincipal, l.OutstandingInterest,
		l.RemainingTenure, l.Status, l.AccountID, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *LoanRepo) Upsert(ctx context.Context, l Loan) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO loans(`+loanCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 owner_id=excluded.owner_id,
	 name=excluded.name,
	 lender=excluded.lender,
	 principal_amount=excluded.principal_amount,
	 interest_rate=excluded.interest_rate,
	 tenure_months=excluded.tenure_months,
	 emi_amount=excluded.emi_amount,
	 start_date=excluded.start_date,
	 outstanding_principal=excluded.outstanding_principal,
	 outstanding_interest=excluded.outstanding_interest,
	 remaining_tenure=excluded.remaining_tenure,
	 status=excluded.status,
	 account_id=excluded.account_id,
	 updated_at=excluded.updated_at;
	`, l.ID, l.OwnerID, l.Name, l.Lender, l.PrincipalAmount, l.InterestRate, l.TenureMonths,
		l.EMIAmount, l.StartDate, l.OutstandingPrincipal, l.OutstandingInterest,
		l.RemainingTenure, l.Status, l.AccountID, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *LoanRepo) Get(ctx context.Context, id string) (*Loan, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+loanCols+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *LoanRepo) List(ctx context.Context, ownerID string) ([]Loan, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+loanCols+` FROM loans WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetOutstanding writes the loan aggregates the engine maintains.
func (r *LoanRepo) SetOutstanding(ctx context.Context, id string, principal, interest int64, remainingTenure int, status string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE loans SET outstanding_principal = ?, outstanding_interest = ?, remaining_tenure = ?, status = ?, updated_at = ?
	WHERE id = ?`, principal, interest, remainingTenure, status, updatedAt, id)
	return err
}

func (r *LoanRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id)
	return err
}

// DependentCount counts schedule and payment rows still referencing the
// loan; used by the guarded delete.
func (r *LoanRepo) DependentCount(ctx context.Context, id string) (int, error) {
	var schedules, payments int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM emi_schedules WHERE loan_id = ?`, id).Scan(&schedules); err != nil {
		return 0, err
	}
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM emi_payments WHERE loan_id = ?`, id).Scan(&payments); err != nil {
		return 0, err
	}
	return schedules + payments, nil
}

const scheduleCols = `id, loan_id, emi_number, due_date, principal, interest, total, balance, status, created_at, updated_at`

func (r *LoanRepo) InsertSchedule(ctx context.Context, s EMISchedule) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO emi_schedules(`+scheduleCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, s.ID, s.LoanID, s.EMINumber, s.DueDate, s.Principal, s.Interest, s.Total, s.Balance, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *LoanRepo) UpsertSchedule(ctx context.Context, s EMISchedule) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO emi_schedules(`+scheduleCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 loan_id=excluded.loan_id,
	 emi_number=excluded.emi_number,
	 due_date=excluded.due_date,
	 principal=excluded.principal,
	 interest=excluded.interest,
	 total=excluded.total,
	 balance=excluded.balance,
	 status=excluded.status,
	 updated_at=excluded.updated_at;
	`, s.ID, s.LoanID, s.EMINumber, s.DueDate, s.Principal, s.Interest, s.Total, s.Balance, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *LoanRepo) DeleteSchedule(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM emi_schedules WHERE id = ?`, id)
	return err
}

func (r *LoanRepo) GetSchedule(ctx context.Context, id string) (*EMISchedule, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM emi_schedules WHERE id = ?`, id)
	var s EMISchedule
	if err := row.Scan(&s.ID, &s.LoanID, &s.EMINumber, &s.DueDate, &s.Principal, &s.Interest,
		&s.Total, &s.Balance, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *LoanRepo) ListSchedules(ctx context.Context, loanID string) ([]EMISchedule, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+scheduleCols+` FROM emi_schedules WHERE loan_id = ? ORDER BY emi_number`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EMISchedule
	for rows.Next() {
		var s EMISchedule
		if err := rows.Scan(&s.ID, &s.LoanID, &s.EMINumber, &s.DueDate, &s.Principal, &s.Interest,
			&s.Total, &s.Balance, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *LoanRepo) SetScheduleStatus(ctx context.Context, id, status string, updatedAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE emi_schedules SET status = ?, updated_at = ? WHERE id = ?`, status, updatedAt, id)
	return err
}

func (r *LoanRepo) DeleteSchedulesForLoan(ctx context.Context, loanID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM emi_schedules WHERE loan_id = ?`, loanID)
	return err
}

const paymentCols = `id, loan_id, emi_schedule_id, amount, principal, interest, payment_date, transaction_id, created_at, updated_at`

func (r *LoanRepo) InsertPayment(ctx context.Context, p EMIPayment) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO emi_payments(`+paymentCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, p.ID, p.LoanID, p.EMIScheduleID, p.Amount, p.Principal, p.Interest, p.PaymentDate, p.TransactionID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *LoanRepo) UpsertPayment(ctx context.Context, p EMIPayment) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO emi_payments(`+paymentCols+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 loan_id=excluded.loan_id,
	 emi_schedule_id=excluded.emi_schedule_id,
	 amount=excluded.amount,
	 principal=excluded.principal,
	 interest=excluded.interest,
	 payment_date=excluded.payment_date,
	 transaction_id=excluded.transaction_id,
	 updated_at=excluded.updated_at;
	`, p.ID, p.LoanID, p.EMIScheduleID, p.Amount, p.Principal, p.Interest, p.PaymentDate, p.TransactionID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *LoanRepo) GetPayment(ctx context.Context, id string) (*EMIPayment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM emi_payments WHERE id = ?`, id)
	var p EMIPayment
	var txID sql.NullString
	if err := row.Scan(&p.ID, &p.LoanID, &p.EMIScheduleID, &p.Amount, &p.Principal, &p.Interest,
		&p.PaymentDate, &txID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.TransactionID = strPtr(txID)
	return &p, nil
}

func (r *LoanRepo) DeletePayment(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM emi_payments WHERE id = ?`, id)
	return err
}

func (r *LoanRepo) ListPayments(ctx context.Context, loanID string) ([]EMIPayment, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+paymentCols+` FROM emi_payments WHERE loan_id = ? ORDER BY payment_date, id`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EMIPayment
	for rows.Next() {
		var p EMIPayment
		var txID sql.NullString
		if err := rows.Scan(&p.ID, &p.LoanID, &p.EMIScheduleID, &p.Amount, &p.Principal, &p.Interest,
			&p.PaymentDate, &txID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.TransactionID = strPtr(txID)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanLoan(row scanner) (Loan, error) {
	var l Loan
	var account sql.NullString
	if err := row.Scan(&l.ID, &l.OwnerID, &l.Name, &l.Lender, &l.PrincipalAmount, &l.InterestRate,
		&l.TenureMonths, &l.EMIAmount, &l.StartDate, &l.OutstandingPrincipal, &l.OutstandingInterest,
		&l.RemainingTenure, &l.Status, &account, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return Loan{}, err
	}
	l.AccountID = strPtr(account)
	return l, nil
}
