package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
)

func remoteChange(t *testing.T, entityType, entityID, op string, payload any) repository.SyncChange {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return repository.SyncChange{
		ID:              "remote-" + entityID + "-" + op,
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       op,
		Data:            string(data),
		ClientTimestamp: database.Now(),
	}
}

func TestApplyRemoteTransactionRecomputesBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	remote := repository.Transaction{
		ID: "txn-remote-1", OwnerID: testOwner, AccountID: acct.ID,
		Type: "expense", Amount: 4200, Date: database.Now(),
		Description: "from phone", CreatedAt: database.Now(), UpdatedAt: database.Now(),
	}
	change := remoteChange(t, EntityTransaction, remote.ID, OpCreate, remote)
	require.NoError(t, e.ApplyRemoteChange(ctx, change))
	require.Equal(t, int64(-4200), balance(t, e, acct.ID))

	// Replaying the same change is a no-op: the row upserts and the balance
	// recomputes to the same value.
	require.NoError(t, e.ApplyRemoteChange(ctx, change))
	require.Equal(t, int64(-4200), balance(t, e, acct.ID))

	// Remote applies never enter the local change log.
	require.Equal(t, 1, changeCount(t, e)) // only the account create
}

func TestApplyRemoteAccountIgnoresClaimedBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "income", Amount: 10000, Date: database.Now(),
	})
	require.NoError(t, err)

	// A remote update claims a wildly different balance; only the source
	// fields are trusted.
	payload := *acct
	payload.Name = "Renamed"
	payload.Balance = 999999
	change := remoteChange(t, EntityAccount, acct.ID, OpUpdate, payload)
	require.NoError(t, e.ApplyRemoteChange(ctx, change))

	got, err := e.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Name)
	require.Equal(t, int64(10000), got.Balance)
}

func TestApplyRemoteTransactionDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	txn, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 700, Date: database.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(-700), balance(t, e, acct.ID))

	change := remoteChange(t, EntityTransaction, txn.ID, OpDelete, txn)
	require.NoError(t, e.ApplyRemoteChange(ctx, change))
	require.Equal(t, int64(0), balance(t, e, acct.ID))
}

func TestApplyRemoteGoalRecomputesProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Bike", TargetAmount: 30000})
	require.NoError(t, err)

	contrib := repository.GoalContribution{
		ID: "contrib-remote-1", GoalID: goal.ID, Amount: 30000,
		Date: database.Now(), CreatedAt: database.Now(), UpdatedAt: database.Now(),
	}
	change := remoteChange(t, EntityGoalContribution, contrib.ID, OpCreate, contrib)
	require.NoError(t, e.ApplyRemoteChange(ctx, change))

	got, err := e.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30000), got.CurrentAmount)
	require.Equal(t, "completed", got.Status)
}

func TestApplyRemoteChildDeleteWithEmptyPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	goal, err := e.CreateGoal(ctx, testOwner, GoalInput{Name: "Bike", TargetAmount: 30000})
	require.NoError(t, err)
	contrib, err := e.AddGoalContribution(ctx, testOwner, goal.ID, 30000, nil)
	require.NoError(t, err)

	// Server-originated deletes may carry no payload; the parent goal is
	// resolved from the local row.
	require.NoError(t, e.ApplyRemoteChange(ctx, repository.SyncChange{
		ID: "remote-del-1", EntityType: EntityGoalContribution, EntityID: contrib.ID,
		Operation: OpDelete, ClientTimestamp: database.Now(),
	}))

	got, err := e.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.CurrentAmount)
	require.Equal(t, "active", got.Status)

	// Deleting a row this store never held is a no-op, not an error.
	require.NoError(t, e.ApplyRemoteChange(ctx, repository.SyncChange{
		ID: "remote-del-2", EntityType: EntityEMIPayment, EntityID: "never-seen",
		Operation: OpDelete, ClientTimestamp: database.Now(),
	}))
}

func TestApplyRemoteUnknownEntityRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	err := e.ApplyRemoteChange(ctx, repository.SyncChange{
		EntityType: "spaceship", EntityID: "x", Operation: OpCreate, Data: "{}",
	})
	require.True(t, apperr.IsValidationError(err))
}

func TestApplyResolutionRecordsWhenAsked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")
	before := changeCount(t, e)

	payload := *acct
	payload.Name = "Merged name"
	change := remoteChange(t, EntityAccount, acct.ID, OpUpdate, payload)

	require.NoError(t, e.ApplyResolution(ctx, change, false))
	require.Equal(t, before, changeCount(t, e))

	require.NoError(t, e.ApplyResolution(ctx, change, true))
	require.Equal(t, before+1, changeCount(t, e))

	got, err := e.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Merged name", got.Name)
}
