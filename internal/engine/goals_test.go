package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
)

func TestGoalProgressTracksContributions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Vacation", TargetAmount: 100000})
	require.NoError(t, err)
	require.Equal(t, "active", goal.Status)
	require.Equal(t, int64(0), goal.CurrentAmount)

	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, 40000, nil)
	require.NoError(t, err)
	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, 25000, nil)
	require.NoError(t, err)

	got, err := e.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(65000), got.CurrentAmount)
	require.Equal(t, "active", got.Status)
}

func TestGoalCompletesAtTargetAndReopensOnWithdrawal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Laptop", TargetAmount: 50000})
	require.NoError(t, err)

	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, 50000, nil)
	require.NoError(t, err)
	got, err := e.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)

	// Withdrawal below target reopens the goal.
	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, -10000, nil)
	require.NoError(t, err)
	got, err = e.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40000), got.CurrentAmount)
	require.Equal(t, "active", got.Status)
}

func TestGoalContributionValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Rainy day", TargetAmount: 10000})
	require.NoError(t, err)

	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, 0, nil)
	require.True(t, apperr.IsValidationError(err))

	_, err = e.AddGoalContribution(ctx, testOwner, "missing", 100, nil)
	require.True(t, apperr.IsNotFoundError(err))
}

func TestDeleteGoalCascadesContributions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Gone", TargetAmount: 1000})
	require.NoError(t, err)
	_, err = e.AddGoalContribution(ctx, testOwner, goal.ID, 500, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteGoal(ctx, testOwner, goal.ID))

	var n int
	require.NoError(t, e.DB.QueryRow("SELECT COUNT(*) FROM goal_contributions").Scan(&n))
	require.Equal(t, 0, n)
}
