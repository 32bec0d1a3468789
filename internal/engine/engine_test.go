package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
)

const testOwner = "owner-1"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, zerolog.Nop())
}

func mustAccount(t *testing.T, e *Engine, name string) *repository.Account {
	t.Helper()
	acct, err := e.CreateAccount(context.Background(), testOwner, AccountInput{
		Name: name, Type: "bank", Currency: "USD",
	})
	require.NoError(t, err)
	return acct
}

func mustCategory(t *testing.T, e *Engine, name, typ string) *repository.Category {
	t.Helper()
	cat, err := e.CreateCategory(context.Background(), testOwner, CategoryInput{Name: name, Type: typ})
	require.NoError(t, err)
	return cat
}

func balance(t *testing.T, e *Engine, id string) int64 {
	t.Helper()
	acct, err := e.GetAccount(context.Background(), testOwner, id)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct.Balance
}

func changeCount(t *testing.T, e *Engine) int {
	t.Helper()
	var n int
	require.NoError(t, e.DB.QueryRow("SELECT COUNT(*) FROM sync_changes").Scan(&n))
	return n
}

func TestAccountBalanceFollowsTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")
	require.Equal(t, int64(0), acct.Balance)

	_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "income", Amount: 100000, Date: database.Now(), Description: "salary",
	})
	require.NoError(t, err)
	require.Equal(t, int64(100000), balance(t, e, acct.ID))

	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 30000, Date: database.Now(), Description: "rent",
	})
	require.NoError(t, err)
	require.Equal(t, int64(70000), balance(t, e, acct.ID))
}

func TestTransferMovesBothBalances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	src := mustAccount(t, e, "Checking")
	dst := mustAccount(t, e, "Savings")

	_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: src.ID, ToAccountID: &dst.ID, Type: "transfer", Amount: 2500,
		Date: database.Now(), Description: "move",
	})
	require.NoError(t, err)
	require.Equal(t, int64(-2500), balance(t, e, src.ID))
	require.Equal(t, int64(2500), balance(t, e, dst.ID))

	// Transfers need a distinct destination.
	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: src.ID, Type: "transfer", Amount: 100, Date: database.Now(),
	})
	require.True(t, apperr.IsValidationError(err))

	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: src.ID, ToAccountID: &src.ID, Type: "transfer", Amount: 100, Date: database.Now(),
	})
	require.True(t, apperr.IsValidationError(err))
}

func TestUpdateAndDeleteRebalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")

	txn, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 50000, Date: database.Now(), Description: "laptop",
	})
	require.NoError(t, err)
	require.Equal(t, int64(-50000), balance(t, e, acct.ID))

	amount := int64(30000)
	updated, err := e.UpdateTransaction(ctx, testOwner, txn.ID, TransactionPatch{Amount: &amount})
	require.NoError(t, err)
	require.Equal(t, int64(30000), updated.Amount)
	require.Equal(t, int64(-30000), balance(t, e, acct.ID))

	require.NoError(t, e.DeleteTransaction(ctx, testOwner, txn.ID))
	require.Equal(t, int64(0), balance(t, e, acct.ID))

	_, err = e.GetTransaction(ctx, testOwner, txn.ID)
	require.True(t, apperr.IsNotFoundError(err))
}

func TestUpdateMovesTransactionAcrossAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	a := mustAccount(t, e, "A")
	b := mustAccount(t, e, "B")

	txn, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: a.ID, Type: "expense", Amount: 1000, Date: database.Now(),
	})
	require.NoError(t, err)

	_, err = e.UpdateTransaction(ctx, testOwner, txn.ID, TransactionPatch{AccountID: &b.ID})
	require.NoError(t, err)
	require.Equal(t, int64(0), balance(t, e, a.ID))
	require.Equal(t, int64(-1000), balance(t, e, b.ID))
}

func TestArchivedAccountRejectsNewTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Old")
	require.NoError(t, e.ArchiveAccount(ctx, testOwner, acct.ID))

	_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 100, Date: database.Now(),
	})
	require.True(t, apperr.IsValidationError(err))
}

func TestDeleteAccountGuardedByTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Busy")
	_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "income", Amount: 100, Date: database.Now(),
	})
	require.NoError(t, err)

	err = e.DeleteAccount(ctx, testOwner, acct.ID)
	require.True(t, apperr.IsConflictError(err))

	empty := mustAccount(t, e, "Empty")
	require.NoError(t, e.DeleteAccount(ctx, testOwner, empty.ID))
}

func TestSystemCategoryCannotBeDeleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, database.SeedDefaults(ctx, e.DB, testOwner))

	cats, err := e.ListCategories(ctx, testOwner)
	require.NoError(t, err)
	require.NotEmpty(t, cats)

	var system *repository.Category
	for i := range cats {
		if cats[i].IsSystem {
			system = &cats[i]
			break
		}
	}
	require.NotNil(t, system)

	err = e.DeleteCategory(ctx, testOwner, system.ID)
	require.True(t, apperr.IsConflictError(err))
}

func TestEveryMutationAppendsOneChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)

	acct := mustAccount(t, e, "Checking")
	require.Equal(t, 1, changeCount(t, e))

	txn, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "income", Amount: 500, Date: database.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, changeCount(t, e))

	amount := int64(600)
	_, err = e.UpdateTransaction(ctx, testOwner, txn.ID, TransactionPatch{Amount: &amount})
	require.NoError(t, err)
	require.Equal(t, 3, changeCount(t, e))

	require.NoError(t, e.DeleteTransaction(ctx, testOwner, txn.ID))
	require.Equal(t, 4, changeCount(t, e))

	// A rejected mutation leaves no log entry.
	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: -5, Date: database.Now(),
	})
	require.True(t, apperr.IsValidationError(err))
	require.Equal(t, 4, changeCount(t, e))
}

func TestTransactionOwnershipEnforced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Mine")

	_, err := e.CreateTransaction(ctx, "someone-else", TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 100, Date: database.Now(),
	})
	require.Error(t, err)
}

func TestBudgetProgressDerivedFromTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEngine(t)
	acct := mustAccount(t, e, "Checking")
	cat := mustCategory(t, e, "Dining", "expense")

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	budget, err := e.CreateBudget(ctx, testOwner, BudgetInput{
		CategoryID: &cat.ID, Amount: 50000, Period: "monthly", StartDate: at.AddDate(0, -1, 0),
	})
	require.NoError(t, err)

	for _, spend := range []int64{1200, 3400} {
		_, err := e.CreateTransaction(ctx, testOwner, TransactionInput{
			AccountID: acct.ID, CategoryID: &cat.ID, Type: "expense", Amount: spend,
			Date: at, Description: "meal",
		})
		require.NoError(t, err)
	}
	// Outside the window and outside the category.
	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, CategoryID: &cat.ID, Type: "expense", Amount: 9999,
		Date: at.AddDate(0, -1, 0), Description: "last month",
	})
	require.NoError(t, err)
	_, err = e.CreateTransaction(ctx, testOwner, TransactionInput{
		AccountID: acct.ID, Type: "expense", Amount: 7777, Date: at, Description: "uncategorized",
	})
	require.NoError(t, err)

	progress, err := e.Progress(ctx, testOwner, budget.ID, at)
	require.NoError(t, err)
	require.Equal(t, int64(4600), progress.Spent)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), progress.PeriodStart)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), progress.PeriodEnd)
}
