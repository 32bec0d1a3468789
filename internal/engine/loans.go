package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// LoanInput describes a new loan.
type LoanInput struct {
	Name            string
	Lender          string
	PrincipalAmount int64
	InterestRate    float64 // annual percent
	TenureMonths    int
	StartDate       time.Time
	AccountID       *string
}

// EMIPaymentInput records one payment against a schedule row. When
// AccountID is set, a linked expense transaction is created from that
// account in the same atomic unit.
type EMIPaymentInput struct {
	LoanID        string
	EMIScheduleID string
	Principal     int64
	Interest      int64
	PaymentDate   time.Time
	AccountID     *string
	CategoryID    *string
}

// scheduleRow is one amortization line before persistence.
type scheduleRow struct {
	Principal int64
	Interest  int64
	Total     int64
	Balance   int64
}

// amortize computes the reducing-balance schedule. The EMI is
// P·r·(1+r)^n / ((1+r)^n − 1) with r the monthly rate; the final row
// absorbs rounding so the principal column sums exactly to P.
func amortize(principal int64, annualRatePercent float64, months int) (emi int64, rows []scheduleRow) {
	p := decimal.NewFromInt(principal)
	if annualRatePercent == 0 {
		// interest-free: equal principal splits, remainder on the last row
		base := principal / int64(months)
		rows = make([]scheduleRow, months)
		balance := principal
		for i := 0; i < months; i++ {
			pr := base
			if i == months-1 {
				pr = balance
			}
			balance -= pr
			rows[i] = scheduleRow{Principal: pr, Interest: 0, Total: pr, Balance: balance}
		}
		return base, rows
	}

	r := decimal.NewFromFloat(annualRatePercent).Div(decimal.NewFromInt(1200))
	one := decimal.NewFromInt(1)
	factor := one.Add(r).Pow(decimal.NewFromInt(int64(months)))
	emiDec := p.Mul(r).Mul(factor).Div(factor.Sub(one))
	emi = emiDec.Round(0).IntPart()

	rows = make([]scheduleRow, months)
	balance := principal
	for i := 0; i < months; i++ {
		interest := decimal.NewFromInt(balance).Mul(r).Round(0).IntPart()
		pr := emi - interest
		if i == months-1 || pr > balance {
			pr = balance
		}
		balance -= pr
		rows[i] = scheduleRow{Principal: pr, Interest: interest, Total: pr + interest, Balance: balance}
	}
	return emi, rows
}

// CreateLoan persists the loan together with its full precomputed EMI
// schedule in one atomic unit.
func (e *Engine) CreateLoan(ctx context.Context, ownerID string, in LoanInput) (*repository.Loan, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.NewValidationError("loan name is required")
	}
	if in.PrincipalAmount <= 0 {
		return nil, apperr.NewValidationError("principal must be positive")
	}
	if in.TenureMonths <= 0 {
		return nil, apperr.NewValidationError("tenure must be positive")
	}
	if in.InterestRate < 0 {
		return nil, apperr.NewValidationError("interest rate may not be negative")
	}

	emi, schedule := amortize(in.PrincipalAmount, in.InterestRate, in.TenureMonths)
	var totalInterest int64
	for _, row := range schedule {
		totalInterest += row.Interest
	}

	var loan repository.Loan
	err := e.withTx(func(r *repos) error {
		loan = repository.Loan{
			ID:                   uuid.NewString(),
			OwnerID:              ownerID,
			Name:                 strings.TrimSpace(in.Name),
			Lender:               strings.TrimSpace(in.Lender),
			PrincipalAmount:      in.PrincipalAmount,
			InterestRate:         in.InterestRate,
			TenureMonths:         in.TenureMonths,
			EMIAmount:            emi,
			StartDate:            in.StartDate,
			OutstandingPrincipal: in.PrincipalAmount,
			OutstandingInterest:  totalInterest,
			RemainingTenure:      in.TenureMonths,
			Status:               "active",
			AccountID:            in.AccountID,
			CreatedAt:            r.now,
			UpdatedAt:            r.now,
		}
		if err := r.loans.Insert(ctx, loan); err != nil {
			return err
		}
		if err := r.recordChange(ctx, EntityLoan, loan.ID, OpCreate, loan); err != nil {
			return err
		}
		for i, row := range schedule {
			s := repository.EMISchedule{
				ID:        uuid.NewString(),
				LoanID:    loan.ID,
				EMINumber: i + 1,
				DueDate:   in.StartDate.AddDate(0, i+1, 0),
				Principal: row.Principal,
				Interest:  row.Interest,
				Total:     row.Total,
				Balance:   row.Balance,
				Status:    "pending",
				CreatedAt: r.now,
				UpdatedAt: r.now,
			}
			if err := r.loans.InsertSchedule(ctx, s); err != nil {
				return err
			}
			if err := r.recordChange(ctx, EntityEMISchedule, s.ID, OpCreate, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Log.Debug().Str("loan", loan.ID).Int64("emi", emi).Msg("loan created")
	return &loan, nil
}

// RecordEMIPayment marks the schedule row paid, decrements the loan's
// outstanding principal and interest by the payment's components, and
// decrements the remaining tenure, floored at zero, all in one unit. The
// loan closes when nothing remains.
func (e *Engine) RecordEMIPayment(ctx context.Context, ownerID string, in EMIPaymentInput) (*repository.EMIPayment, error) {
	if in.Principal < 0 || in.Interest < 0 {
		return nil, apperr.NewValidationError("payment components may not be negative")
	}
	if in.Principal+in.Interest <= 0 {
		return nil, apperr.NewValidationError("payment must be positive")
	}

	var payment repository.EMIPayment
	err := e.withTx(func(r *repos) error {
		loan, err := r.loans.Get(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan == nil || loan.OwnerID != ownerID {
			return apperr.NewNotFoundError("loan", in.LoanID)
		}
		sched, err := r.loans.GetSchedule(ctx, in.EMIScheduleID)
		if err != nil {
			return err
		}
		if sched == nil || sched.LoanID != loan.ID {
			return apperr.NewNotFoundError("emi schedule", in.EMIScheduleID)
		}
		if sched.Status == "paid" {
			return apperr.NewConflictError("emi %d of loan %q is already paid", sched.EMINumber, loan.ID)
		}

		var txnID *string
		if in.AccountID != nil {
			txn, err := createTransactionTx(ctx, r, ownerID, TransactionInput{
				AccountID:     *in.AccountID,
				CategoryID:    in.CategoryID,
				Type:          "expense",
				Amount:        in.Principal + in.Interest,
				Date:          in.PaymentDate,
				Description:   "EMI payment: " + loan.Name,
				LoanID:        &loan.ID,
				EMIScheduleID: &sched.ID,
			}, true)
			if err != nil {
				return err
			}
			txnID = &txn.ID
		}

		payment = repository.EMIPayment{
			ID:            uuid.NewString(),
			LoanID:        loan.ID,
			EMIScheduleID: sched.ID,
			Amount:        in.Principal + in.Interest,
			Principal:     in.Principal,
			Interest:      in.Interest,
			PaymentDate:   in.PaymentDate,
			TransactionID: txnID,
			CreatedAt:     r.now,
			UpdatedAt:     r.now,
		}
		if err := r.loans.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := r.loans.SetScheduleStatus(ctx, sched.ID, "paid", r.now); err != nil {
			return err
		}
		sched.Status = "paid"
		sched.UpdatedAt = r.now

		outPrincipal := loan.OutstandingPrincipal - in.Principal
		outInterest := loan.OutstandingInterest - in.Interest
		tenure := loan.RemainingTenure - 1
		if tenure < 0 {
			tenure = 0
		}
		status := loan.Status
		if tenure == 0 && outPrincipal <= 0 {
			status = "closed"
		}
		if err := r.loans.SetOutstanding(ctx, loan.ID, outPrincipal, outInterest, tenure, status, r.now); err != nil {
			return err
		}

		loan.OutstandingPrincipal = outPrincipal
		loan.OutstandingInterest = outInterest
		loan.RemainingTenure = tenure
		loan.Status = status
		loan.UpdatedAt = r.now

		if err := r.recordChange(ctx, EntityEMIPayment, payment.ID, OpCreate, payment); err != nil {
			return err
		}
		if err := r.recordChange(ctx, EntityEMISchedule, sched.ID, OpUpdate, sched); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityLoan, loan.ID, OpUpdate, loan)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// DeleteLoan refuses while schedule or payment rows exist.
func (e *Engine) DeleteLoan(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		loan, err := r.loans.Get(ctx, id)
		if err != nil {
			return err
		}
		if loan == nil || loan.OwnerID != ownerID {
			return apperr.NewNotFoundError("loan", id)
		}
		n, err := r.loans.DependentCount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("loan %q has %d schedule/payment rows", id, n)
		}
		if err := r.loans.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityLoan, id, OpDelete, loan)
	})
}

// GetLoan returns the loan or a NotFoundError.
func (e *Engine) GetLoan(ctx context.Context, ownerID, id string) (*repository.Loan, error) {
	loan, err := e.read().loans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan == nil || loan.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("loan", id)
	}
	return loan, nil
}

// ListEMISchedules returns the loan's amortization rows in order.
func (e *Engine) ListEMISchedules(ctx context.Context, ownerID, loanID string) ([]repository.EMISchedule, error) {
	if _, err := e.GetLoan(ctx, ownerID, loanID); err != nil {
		return nil, err
	}
	return e.read().loans.ListSchedules(ctx, loanID)
}
