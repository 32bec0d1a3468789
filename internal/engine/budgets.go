package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// BudgetInput describes a new budget.
type BudgetInput struct {
	CategoryID *string
	Amount     int64
	Period     string
	StartDate  time.Time
	EndDate    *time.Time
}

// BudgetProgress is a budget with its derived spent aggregate for the
// period window containing the reference time.
type BudgetProgress struct {
	Budget      repository.Budget
	PeriodStart time.Time
	PeriodEnd   time.Time
	Spent       int64
}

var budgetPeriods = map[string]bool{"daily": true, "weekly": true, "monthly": true, "yearly": true}

// CreateBudget persists a budget. Spent is never stored; it is recomputed
// from matching transactions on every read.
func (e *Engine) CreateBudget(ctx context.Context, ownerID string, in BudgetInput) (*repository.Budget, error) {
	if in.Amount <= 0 {
		return nil, apperr.NewValidationError("budget amount must be positive")
	}
	if !budgetPeriods[in.Period] {
		return nil, apperr.NewValidationError("unknown budget period %q", in.Period)
	}

	var b repository.Budget
	err := e.withTx(func(r *repos) error {
		if in.CategoryID != nil {
			cat, err := r.categories.Get(ctx, *in.CategoryID)
			if err != nil {
				return err
			}
			if cat == nil || cat.OwnerID != ownerID {
				return apperr.NewNotFoundError("category", *in.CategoryID)
			}
		}
		b = repository.Budget{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			CategoryID: in.CategoryID,
			Amount:     in.Amount,
			Period:     in.Period,
			StartDate:  in.StartDate,
			EndDate:    in.EndDate,
			CreatedAt:  r.now,
			UpdatedAt:  r.now,
		}
		if err := r.budgets.Upsert(ctx, b); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityBudget, b.ID, OpCreate, b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBudget removes a budget; budgets have no dependents.
func (e *Engine) DeleteBudget(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		b, err := r.budgets.Get(ctx, id)
		if err != nil {
			return err
		}
		if b == nil || b.OwnerID != ownerID {
			return apperr.NewNotFoundError("budget", id)
		}
		if err := r.budgets.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityBudget, id, OpDelete, b)
	})
}

// Progress derives the budget's spent aggregate for the period containing
// at.
func (e *Engine) Progress(ctx context.Context, ownerID, budgetID string, at time.Time) (*BudgetProgress, error) {
	r := e.read()
	b, err := r.budgets.Get(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if b == nil || b.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("budget", budgetID)
	}

	start, end := periodWindow(b.Period, at)
	spent, err := r.txns.SumForBudget(ctx, ownerID, b.CategoryID, start, end)
	if err != nil {
		return nil, err
	}
	return &BudgetProgress{Budget: *b, PeriodStart: start, PeriodEnd: end, Spent: spent}, nil
}

// periodWindow returns the [start, end) window of the period containing at.
func periodWindow(period string, at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	switch period {
	case "daily":
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case "weekly":
		// weeks start on Monday
		offset := (int(at.Weekday()) + 6) % 7
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case "yearly":
		start := time.Date(at.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0)
	default: // monthly
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
}
