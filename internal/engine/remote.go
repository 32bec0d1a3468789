package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// ApplyRemoteChange applies one pulled change to the local store. Writes go
// through the same transactional discipline as local mutations but are not
// re-recorded in the change log (that would echo them back to the server).
//
// Derived fields are never taken from the remote payload: after the source
// row is written, the affected aggregates (account balances, goal progress,
// loan outstanding, investment aggregates) are recomputed from local source
// rows. That makes application idempotent and order-tolerant across entity
// types.
func (e *Engine) ApplyRemoteChange(ctx context.Context, change repository.SyncChange) error {
	return e.withTx(func(r *repos) error {
		return applyRemoteTx(ctx, r, change)
	})
}

// ApplyResolution applies a conflict resolution outcome. When record is set
// the applied state is appended to the change log so the next push propagates
// it to the server; server-side resolutions pass record=false because the
// server already holds that state.
func (e *Engine) ApplyResolution(ctx context.Context, change repository.SyncChange, record bool) error {
	return e.withTx(func(r *repos) error {
		if err := applyRemoteTx(ctx, r, change); err != nil {
			return err
		}
		if !record {
			return nil
		}
		return r.sync.AppendChange(ctx, repository.SyncChange{
			ID:              uuid.NewString(),
			EntityType:      change.EntityType,
			EntityID:        change.EntityID,
			Operation:       change.Operation,
			Data:            change.Data,
			ClientTimestamp: r.now,
		})
	})
}

func applyRemoteTx(ctx context.Context, r *repos, change repository.SyncChange) error {
	raw := []byte(change.Data)
	switch change.EntityType {
	case EntityAccount:
		return applyRemoteAccount(ctx, r, change, raw)
	case EntityCategory:
		return applyRemoteRow(raw, change, func(row repository.Category) error {
			if change.Operation == OpDelete {
				return r.categories.Delete(ctx, change.EntityID)
			}
			return r.categories.Upsert(ctx, row)
		})
	case EntityTransaction:
		return applyRemoteTransaction(ctx, r, change, raw)
	case EntityBudget:
		return applyRemoteRow(raw, change, func(row repository.Budget) error {
			if change.Operation == OpDelete {
				return r.budgets.Delete(ctx, change.EntityID)
			}
			return r.budgets.Upsert(ctx, row)
		})
	case EntityGoal:
		return applyRemoteGoal(ctx, r, change, raw)
	case EntityGoalContribution:
		return applyRemoteContribution(ctx, r, change, raw)
	case EntityLoan:
		return applyRemoteLoan(ctx, r, change, raw)
	case EntityEMISchedule:
		return applyRemoteSchedule(ctx, r, change, raw)
	case EntityEMIPayment:
		return applyRemotePayment(ctx, r, change, raw)
	case EntityInvestment:
		return applyRemoteInvestment(ctx, r, change, raw)
	case EntityInvestmentTransaction:
		return applyRemoteInvestmentTx(ctx, r, change, raw)
	case EntityRecurringTransaction:
		return applyRemoteRow(raw, change, func(row repository.RecurringTransaction) error {
			if change.Operation == OpDelete {
				return r.recurring.Delete(ctx, change.EntityID)
			}
			return r.recurring.Upsert(ctx, row)
		})
	case EntityTag:
		return applyRemoteRow(raw, change, func(row repository.Tag) error {
			if change.Operation == OpDelete {
				return r.tags.Delete(ctx, change.EntityID)
			}
			return r.tags.Upsert(ctx, row)
		})
	case EntitySettings:
		return applyRemoteRow(raw, change, func(row repository.Settings) error {
			if change.Operation == OpDelete {
				return nil // settings rows are never deleted remotely
			}
			return r.settings.Upsert(ctx, row)
		})
	}
	return apperr.NewValidationError("unknown entity type %q in remote change", change.EntityType)
}

// applyRemoteRow decodes the payload and hands the row to apply. Deletes
// skip decoding only when the payload is empty.
func applyRemoteRow[T any](raw []byte, change repository.SyncChange, apply func(T) error) error {
	var row T
	if change.Operation != OpDelete || len(raw) > 2 {
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("decode %s payload: %w", change.EntityType, err)
		}
	}
	return apply(row)
}

func applyRemoteAccount(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		n, err := r.accounts.TransactionCount(ctx, change.EntityID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("remote delete of account %q blocked by local transactions", change.EntityID)
		}
		return r.accounts.Delete(ctx, change.EntityID)
	}
	var row repository.Account
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode account payload: %w", err)
	}
	if err := r.accounts.Upsert(ctx, row); err != nil {
		return err
	}
	return replayAccountBalance(ctx, r, row.ID)
}

func applyRemoteTransaction(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	old, err := r.txns.Get(ctx, change.EntityID)
	if err != nil {
		return err
	}

	touched := map[string]bool{}
	note := func(t *repository.Transaction) {
		if t == nil {
			return
		}
		touched[t.AccountID] = true
		if t.ToAccountID != nil {
			touched[*t.ToAccountID] = true
		}
	}
	note(old)

	if change.Operation == OpDelete {
		if old != nil {
			if err := r.txns.Delete(ctx, change.EntityID); err != nil {
				return err
			}
		}
	} else {
		var row repository.Transaction
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("decode transaction payload: %w", err)
		}
		if err := r.txns.Upsert(ctx, row); err != nil {
			return err
		}
		note(&row)
	}

	for accountID := range touched {
		if err := replayAccountBalance(ctx, r, accountID); err != nil {
			return err
		}
	}
	return nil
}

// replayAccountBalance recomputes the cached balance from the account's
// current non-deleted transactions in creation order.
func replayAccountBalance(ctx context.Context, r *repos, accountID string) error {
	acct, err := r.accounts.Get(ctx, accountID)
	if err != nil || acct == nil {
		return err
	}
	txns, err := r.txns.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	var balance int64
	for _, t := range txns {
		for _, ef := range balanceEffects(t) {
			if ef.accountID == accountID {
				balance += ef.delta
			}
		}
	}
	return r.accounts.SetBalance(ctx, accountID, balance, r.now)
}

func applyRemoteGoal(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		return r.goals.Delete(ctx, change.EntityID)
	}
	var row repository.Goal
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode goal payload: %w", err)
	}
	if err := r.goals.Upsert(ctx, row); err != nil {
		return err
	}
	return recomputeGoal(ctx, r, row.ID)
}

func applyRemoteContribution(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		// The delete payload may be empty; the parent goal comes from the
		// local row. A row this store never held needs no recompute.
		existing, err := r.goals.GetContribution(ctx, change.EntityID)
		if err != nil || existing == nil {
			return err
		}
		if err := r.goals.DeleteContribution(ctx, change.EntityID); err != nil {
			return err
		}
		return recomputeGoal(ctx, r, existing.GoalID)
	}
	var row repository.GoalContribution
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode goal contribution payload: %w", err)
	}
	if err := r.goals.UpsertContribution(ctx, row); err != nil {
		return err
	}
	return recomputeGoal(ctx, r, row.GoalID)
}

// recomputeGoal re-derives currentAmount and status from contribution rows.
func recomputeGoal(ctx context.Context, r *repos, goalID string) error {
	goal, err := r.goals.Get(ctx, goalID)
	if err != nil || goal == nil {
		return err
	}
	total, err := r.goals.SumContributions(ctx, goalID)
	if err != nil {
		return err
	}
	status := goalStatusFor(goal.Status, total, goal.TargetAmount)
	return r.goals.SetProgress(ctx, goalID, total, status, r.now)
}

func applyRemoteLoan(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		n, err := r.loans.DependentCount(ctx, change.EntityID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("remote delete of loan %q blocked by local rows", change.EntityID)
		}
		return r.loans.Delete(ctx, change.EntityID)
	}
	var row repository.Loan
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode loan payload: %w", err)
	}
	if err := r.loans.Upsert(ctx, row); err != nil {
		return err
	}
	return recomputeLoan(ctx, r, row.ID)
}

func applyRemoteSchedule(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		existing, err := r.loans.GetSchedule(ctx, change.EntityID)
		if err != nil || existing == nil {
			return err
		}
		if err := r.loans.DeleteSchedule(ctx, change.EntityID); err != nil {
			return err
		}
		return recomputeLoan(ctx, r, existing.LoanID)
	}
	var row repository.EMISchedule
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode emi schedule payload: %w", err)
	}
	if err := r.loans.UpsertSchedule(ctx, row); err != nil {
		return err
	}
	return recomputeLoan(ctx, r, row.LoanID)
}

func applyRemotePayment(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		existing, err := r.loans.GetPayment(ctx, change.EntityID)
		if err != nil || existing == nil {
			return err
		}
		if err := r.loans.DeletePayment(ctx, change.EntityID); err != nil {
			return err
		}
		return recomputeLoan(ctx, r, existing.LoanID)
	}
	var row repository.EMIPayment
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode emi payment payload: %w", err)
	}
	if err := r.loans.UpsertPayment(ctx, row); err != nil {
		return err
	}
	return recomputeLoan(ctx, r, row.LoanID)
}

// recomputeLoan re-derives the outstanding aggregates, remaining tenure and
// schedule statuses from the loan's local schedule and payment rows.
func recomputeLoan(ctx context.Context, r *repos, loanID string) error {
	loan, err := r.loans.Get(ctx, loanID)
	if err != nil || loan == nil {
		return err
	}
	schedules, err := r.loans.ListSchedules(ctx, loanID)
	if err != nil {
		return err
	}
	payments, err := r.loans.ListPayments(ctx, loanID)
	if err != nil {
		return err
	}

	paidSchedules := map[string]bool{}
	var paidPrincipal, paidInterest int64
	for _, p := range payments {
		paidPrincipal += p.Principal
		paidInterest += p.Interest
		paidSchedules[p.EMIScheduleID] = true
	}

	for _, s := range schedules {
		want := "pending"
		if paidSchedules[s.ID] {
			want = "paid"
		}
		if s.Status != want {
			if err := r.loans.SetScheduleStatus(ctx, s.ID, want, r.now); err != nil {
				return err
			}
		}
	}

	outPrincipal := loan.PrincipalAmount - paidPrincipal
	outInterest := loan.OutstandingInterest
	if len(schedules) > 0 {
		var totalInterest int64
		for _, s := range schedules {
			totalInterest += s.Interest
		}
		outInterest = totalInterest - paidInterest
	}
	tenure := loan.TenureMonths - len(payments)
	if tenure < 0 {
		tenure = 0
	}
	status := loan.Status
	if tenure == 0 && outPrincipal <= 0 {
		status = "closed"
	}
	return r.loans.SetOutstanding(ctx, loanID, outPrincipal, outInterest, tenure, status, r.now)
}

func applyRemoteInvestment(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		n, err := r.investments.TransactionCount(ctx, change.EntityID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("remote delete of investment %q blocked by local transactions", change.EntityID)
		}
		return r.investments.Delete(ctx, change.EntityID)
	}
	var row repository.Investment
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode investment payload: %w", err)
	}
	if err := r.investments.Upsert(ctx, row); err != nil {
		return err
	}
	return recomputeInvestment(ctx, r, row.ID)
}

func applyRemoteInvestmentTx(ctx context.Context, r *repos, change repository.SyncChange, raw []byte) error {
	if change.Operation == OpDelete {
		existing, err := r.investments.GetTransaction(ctx, change.EntityID)
		if err != nil || existing == nil {
			return err
		}
		if err := r.investments.DeleteTransaction(ctx, change.EntityID); err != nil {
			return err
		}
		return recomputeInvestment(ctx, r, existing.InvestmentID)
	}
	var row repository.InvestmentTransaction
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("decode investment transaction payload: %w", err)
	}
	if err := r.investments.UpsertTransaction(ctx, row); err != nil {
		return err
	}
	return recomputeInvestment(ctx, r, row.InvestmentID)
}

// recomputeInvestment replays the holding's transactions from scratch under
// the average-cost method.
func recomputeInvestment(ctx context.Context, r *repos, investmentID string) error {
	inv, err := r.investments.Get(ctx, investmentID)
	if err != nil || inv == nil {
		return err
	}
	txns, err := r.investments.ListTransactions(ctx, investmentID)
	if err != nil {
		return err
	}

	agg := *inv
	agg.Quantity = 0
	agg.InvestedAmount = 0
	agg.AvgBuyPrice = 0
	for _, t := range txns {
		next, err := applyInvestmentDelta(agg, t.Type, decimal.NewFromFloat(t.Quantity), t.Amount)
		if err != nil {
			// replay tolerates historical oversells rather than wedging sync
			continue
		}
		agg = next
	}
	value := decimal.NewFromFloat(agg.Quantity).Mul(decimal.NewFromInt(agg.CurrentPrice)).Round(0).IntPart()
	return r.investments.SetAggregates(ctx, investmentID, agg.Quantity, agg.AvgBuyPrice,
		agg.InvestedAmount, agg.CurrentPrice, value, r.now)
}
