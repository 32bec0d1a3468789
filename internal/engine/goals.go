package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// GoalInput describes a new savings goal.
type GoalInput struct {
	Name         string
	TargetAmount int64
	TargetDate   *time.Time
}

// CreateGoal persists a goal with zero progress.
func (e *Engine) CreateGoal(ctx context.Context, ownerID string, in GoalInput) (*repository.Goal, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.NewValidationError("goal name is required")
	}
	if in.TargetAmount <= 0 {
		return nil, apperr.NewValidationError("target amount must be positive")
	}

	var goal repository.Goal
	err := e.withTx(func(r *repos) error {
		goal = repository.Goal{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			Name:         strings.TrimSpace(in.Name),
			TargetAmount: in.TargetAmount,
			TargetDate:   in.TargetDate,
			Status:       "active",
			CreatedAt:    r.now,
			UpdatedAt:    r.now,
		}
		if err := r.goals.Insert(ctx, goal); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityGoal, goal.ID, OpCreate, goal)
	})
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// AddGoalContribution posts a contribution (negative amount = withdrawal),
// recomputes the goal's current amount from its contribution rows, and
// flips the status to completed exactly when the target is met. A later
// withdrawal below target reopens the goal.
func (e *Engine) AddGoalContribution(ctx context.Context, ownerID, goalID string, amount int64, note *string) (*repository.GoalContribution, error) {
	if amount == 0 {
		return nil, apperr.NewValidationError("contribution amount may not be zero")
	}

	var contrib repository.GoalContribution
	err := e.withTx(func(r *repos) error {
		goal, err := r.goals.Get(ctx, goalID)
		if err != nil {
			return err
		}
		if goal == nil || goal.OwnerID != ownerID {
			return apperr.NewNotFoundError("goal", goalID)
		}
		if goal.Status == "cancelled" {
			return apperr.NewConflictError("goal %q is cancelled", goalID)
		}

		contrib = repository.GoalContribution{
			ID:        uuid.NewString(),
			GoalID:    goalID,
			Amount:    amount,
			Note:      note,
			Date:      r.now,
			CreatedAt: r.now,
			UpdatedAt: r.now,
		}
		if err := r.goals.InsertContribution(ctx, contrib); err != nil {
			return err
		}

		total, err := r.goals.SumContributions(ctx, goalID)
		if err != nil {
			return err
		}
		status := goalStatusFor(goal.Status, total, goal.TargetAmount)
		if err := r.goals.SetProgress(ctx, goalID, total, status, r.now); err != nil {
			return err
		}

		goal.CurrentAmount = total
		goal.Status = status
		goal.UpdatedAt = r.now
		if err := r.recordChange(ctx, EntityGoalContribution, contrib.ID, OpCreate, contrib); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityGoal, goalID, OpUpdate, goal)
	})
	if err != nil {
		return nil, err
	}
	return &contrib, nil
}

// goalStatusFor derives the status from the recomputed aggregate. Paused
// goals stay paused until they actually complete.
func goalStatusFor(current string, total, target int64) string {
	if total >= target {
		return "completed"
	}
	if current == "completed" {
		return "active"
	}
	return current
}

// DeleteGoal removes the goal; contribution rows cascade with it rather
// than blocking the delete.
func (e *Engine) DeleteGoal(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		goal, err := r.goals.Get(ctx, id)
		if err != nil {
			return err
		}
		if goal == nil || goal.OwnerID != ownerID {
			return apperr.NewNotFoundError("goal", id)
		}
		if err := r.goals.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityGoal, id, OpDelete, goal)
	})
}

// GetGoal returns the goal or a NotFoundError.
func (e *Engine) GetGoal(ctx context.Context, ownerID, id string) (*repository.Goal, error) {
	goal, err := e.read().goals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if goal == nil || goal.OwnerID != ownerID {
		return nil, apperr.NewNotFoundError("goal", id)
	}
	return goal, nil
}
