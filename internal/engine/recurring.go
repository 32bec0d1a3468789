package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// RecurringInput describes a new recurring rule.
type RecurringInput struct {
	AccountID   string
	ToAccountID *string
	CategoryID  *string
	Type        string
	Amount      int64
	Description string
	Frequency   string
	StartDate   time.Time
	EndDate     *time.Time
}

var frequencies = map[string]bool{
	"daily": true, "weekly": true, "biweekly": true,
	"monthly": true, "quarterly": true, "yearly": true,
}

// nextAfter advances one interval from t. Advancing from the previous
// nextOccurrence rather than from "today" keeps the schedule drift-free
// across periods the app was closed for.
func nextAfter(frequency string, t time.Time) time.Time {
	switch frequency {
	case "daily":
		return t.AddDate(0, 0, 1)
	case "weekly":
		return t.AddDate(0, 0, 7)
	case "biweekly":
		return t.AddDate(0, 0, 14)
	case "monthly":
		return t.AddDate(0, 1, 0)
	case "quarterly":
		return t.AddDate(0, 3, 0)
	case "yearly":
		return t.AddDate(1, 0, 0)
	}
	return t
}

// CreateRecurring persists a rule with its first occurrence at the start
// date.
func (e *Engine) CreateRecurring(ctx context.Context, ownerID string, in RecurringInput) (*repository.RecurringTransaction, error) {
	if in.Amount <= 0 {
		return nil, apperr.NewValidationError("amount must be positive")
	}
	if !categoryTypes[in.Type] {
		return nil, apperr.NewValidationError("unknown transaction type %q", in.Type)
	}
	if !frequencies[in.Frequency] {
		return nil, apperr.NewValidationError("unknown frequency %q", in.Frequency)
	}
	if in.Type == "transfer" && (in.ToAccountID == nil || *in.ToAccountID == in.AccountID) {
		return nil, apperr.NewValidationError("transfer requires a distinct destination account")
	}

	var rule repository.RecurringTransaction
	err := e.withTx(func(r *repos) error {
		acct, err := r.accounts.Get(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if acct == nil || acct.OwnerID != ownerID {
			return apperr.NewNotFoundError("account", in.AccountID)
		}
		rule = repository.RecurringTransaction{
			ID:             uuid.NewString(),
			OwnerID:        ownerID,
			AccountID:      in.AccountID,
			ToAccountID:    in.ToAccountID,
			CategoryID:     in.CategoryID,
			Type:           in.Type,
			Amount:         in.Amount,
			Description:    in.Description,
			Frequency:      in.Frequency,
			StartDate:      in.StartDate,
			NextOccurrence: in.StartDate,
			EndDate:        in.EndDate,
			IsActive:       true,
			CreatedAt:      r.now,
			UpdatedAt:      r.now,
		}
		if err := r.recurring.Insert(ctx, rule); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityRecurringTransaction, rule.ID, OpCreate, rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DueRecurring returns active rules whose next occurrence has arrived.
func (e *Engine) DueRecurring(ctx context.Context, ownerID string, now time.Time) ([]repository.RecurringTransaction, error) {
	return e.read().recurring.ListDue(ctx, ownerID, now)
}

// ProcessRecurring materializes exactly one due occurrence: it creates the
// transaction from the rule's fields and advances the schedule atomically
// with it. The next occurrence is computed from the rule's current
// nextOccurrence, so a rule several periods overdue catches up one period
// per call; CatchUp loops until nothing is due.
func (e *Engine) ProcessRecurring(ctx context.Context, ownerID, id string, now time.Time) (*repository.Transaction, error) {
	var txn repository.Transaction
	err := e.withTx(func(r *repos) error {
		rule, err := r.recurring.Get(ctx, id)
		if err != nil {
			return err
		}
		if rule == nil || rule.OwnerID != ownerID {
			return apperr.NewNotFoundError("recurring transaction", id)
		}
		if !rule.IsActive {
			return apperr.NewConflictError("recurring transaction %q is inactive", id)
		}
		if rule.NextOccurrence.After(now) {
			return apperr.NewConflictError("recurring transaction %q is not due until %s", id, rule.NextOccurrence.Format(time.DateOnly))
		}

		txn, err = createTransactionTx(ctx, r, ownerID, TransactionInput{
			AccountID:   rule.AccountID,
			ToAccountID: rule.ToAccountID,
			CategoryID:  rule.CategoryID,
			Type:        rule.Type,
			Amount:      rule.Amount,
			Date:        rule.NextOccurrence,
			Description: rule.Description,
			IsRecurring: true,
			RecurringID: &rule.ID,
		}, true)
		if err != nil {
			return err
		}

		next := nextAfter(rule.Frequency, rule.NextOccurrence)
		total := rule.TotalCreated + 1
		if err := r.recurring.Advance(ctx, id, next, rule.NextOccurrence, total, r.now); err != nil {
			return err
		}

		rule.LastCreatedDate = &txn.Date
		rule.NextOccurrence = next
		rule.TotalCreated = total
		rule.UpdatedAt = r.now

		// rules past their end date deactivate once the last occurrence
		// has materialized
		if rule.EndDate != nil && next.After(*rule.EndDate) {
			if err := r.recurring.SetActive(ctx, id, false, r.now); err != nil {
				return err
			}
			rule.IsActive = false
		}
		return r.recordChange(ctx, EntityRecurringTransaction, id, OpUpdate, *rule)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// CatchUp materializes every overdue occurrence of every due rule, looping
// until no rule's next occurrence is at or before now. Each occurrence is
// still its own atomic unit, so a failure mid-catch-up loses nothing
// already committed.
func (e *Engine) CatchUp(ctx context.Context, ownerID string, now time.Time) (int, error) {
	created := 0
	for {
		due, err := e.DueRecurring(ctx, ownerID, now)
		if err != nil {
			return created, err
		}
		if len(due) == 0 {
			return created, nil
		}
		for _, rule := range due {
			if _, err := e.ProcessRecurring(ctx, ownerID, rule.ID, now); err != nil {
				return created, err
			}
			created++
		}
	}
}

// DeactivateRecurring stops future materialization without deleting
// history.
func (e *Engine) DeactivateRecurring(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		rule, err := r.recurring.Get(ctx, id)
		if err != nil {
			return err
		}
		if rule == nil || rule.OwnerID != ownerID {
			return apperr.NewNotFoundError("recurring transaction", id)
		}
		if err := r.recurring.SetActive(ctx, id, false, r.now); err != nil {
			return err
		}
		rule.IsActive = false
		rule.UpdatedAt = r.now
		return r.recordChange(ctx, EntityRecurringTransaction, id, OpUpdate, *rule)
	})
}
