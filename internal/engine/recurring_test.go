package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

func TestProcessRecurringAdvancesWithoutDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	rule, err := e.CreateRecurring(ctx, testOwner, RecurringInput{
		AccountID: acct.ID, Type: "expense", Amount: 1500,
		Description: "Streaming", Frequency: "monthly", StartDate: start,
	})
	require.NoError(t, err)
	require.Equal(t, start, rule.NextOccurrence)

	now := start.AddDate(0, 0, 1)
	txn, err := e.ProcessRecurring(ctx, testOwner, rule.ID, now)
	require.NoError(t, err)
	require.True(t, txn.IsRecurring)
	require.NotNil(t, txn.RecurringID)
	require.Equal(t, start, txn.Date)

	got, err := e.read().recurring.Get(ctx, rule.ID)
	require.NoError(t, err)
	// The next occurrence advances from the previous occurrence, not from
	// the processing time, so a late run does not shift the schedule.
	require.Equal(t, start.AddDate(0, 1, 0), got.NextOccurrence)
	require.Equal(t, 1, got.TotalCreated)

	// Not due again until the next occurrence passes.
	_, err = e.ProcessRecurring(ctx, testOwner, rule.ID, now)
	require.True(t, apperr.IsConflictError(err))
}

func TestCatchUpMaterializesMissedPeriods(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := e.CreateRecurring(ctx, testOwner, RecurringInput{
		AccountID: acct.ID, Type: "expense", Amount: 9900,
		Description: "Rent", Frequency: "monthly", StartDate: start,
	})
	require.NoError(t, err)

	// Three whole periods elapsed while the app was closed.
	created, err := e.CatchUp(ctx, testOwner, start.AddDate(0, 3, 0).Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, created)
	require.Equal(t, int64(-3*9900), balance(t, e, acct.ID))

	txns, err := e.ListTransactions(ctx, testOwner, repository.TransactionFilters{AccountID: acct.ID})
	require.NoError(t, err)
	require.Len(t, txns, 3)

	got, err := e.read().recurring.Get(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, start.AddDate(0, 3, 0), got.NextOccurrence)
	require.Equal(t, 3, got.TotalCreated)

	// Nothing further to do.
	created, err = e.CatchUp(ctx, testOwner, start.AddDate(0, 3, 0).Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, created)
}

func TestRecurringDeactivatesPastEndDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)
	rule, err := e.CreateRecurring(ctx, testOwner, RecurringInput{
		AccountID: acct.ID, Type: "expense", Amount: 100,
		Description: "Trial", Frequency: "weekly", StartDate: start, EndDate: &end,
	})
	require.NoError(t, err)

	created, err := e.CatchUp(ctx, testOwner, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	// Occurrences on Jan 1 and Jan 8; Jan 15 falls past the end date.
	require.Equal(t, 2, created)

	got, err := e.read().recurring.Get(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	_, err = e.ProcessRecurring(ctx, testOwner, rule.ID, start.AddDate(0, 2, 0))
	require.True(t, apperr.IsConflictError(err))
}

func TestDeactivateRecurringStopsMaterialization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := e.CreateRecurring(ctx, testOwner, RecurringInput{
		AccountID: acct.ID, Type: "income", Amount: 100000,
		Description: "Salary", Frequency: "monthly", StartDate: start,
	})
	require.NoError(t, err)
	require.NoError(t, e.DeactivateRecurring(ctx, testOwner, rule.ID))

	created, err := e.CatchUp(ctx, testOwner, start.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Equal(t, 0, created)
}
