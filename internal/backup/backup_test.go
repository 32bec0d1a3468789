package backup

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/engine"
)

const testOwner = "owner-1"

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := newTestDB(t)
	eng := engine.New(src, zerolog.Nop())

	acct, err := eng.CreateAccount(ctx, testOwner, engine.AccountInput{Name: "Checking", Type: "bank", Currency: "USD"})
	require.NoError(t, err)
	cat, err := eng.CreateCategory(ctx, testOwner, engine.CategoryInput{Name: "Bills", Type: "expense"})
	require.NoError(t, err)
	_, err = eng.CreateTransaction(ctx, testOwner, engine.TransactionInput{
		AccountID: acct.ID, CategoryID: &cat.ID, Type: "expense", Amount: 4200,
		Date: database.Now(), Description: "power",
	})
	require.NoError(t, err)
	goal, err := eng.CreateGoal(ctx, testOwner, engine.GoalInput{Name: "Trip", TargetAmount: 100000})
	require.NoError(t, err)
	_, err = eng.AddGoalContribution(ctx, testOwner, goal.ID, 2500, nil)
	require.NoError(t, err)
	_, err = eng.CreateLoan(ctx, testOwner, engine.LoanInput{
		Name: "Car", Lender: "Bank", PrincipalAmount: 120000, InterestRate: 0,
		TenureMonths: 12, StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, src, testOwner, &buf))
	require.Contains(t, buf.String(), `"version": 1`)
	// The change log never leaves the store.
	require.NotContains(t, buf.String(), "sync_changes")

	dst := newTestDB(t)
	doc, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, testOwner, doc.OwnerID)

	restored := engine.New(dst, zerolog.Nop())
	accounts, err := restored.ListAccounts(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, int64(-4200), accounts[0].Balance)

	restoredGoal, err := restored.GetGoal(ctx, testOwner, goal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2500), restoredGoal.CurrentAmount)

	var schedules int
	require.NoError(t, dst.QueryRow("SELECT COUNT(*) FROM emi_schedules").Scan(&schedules))
	require.Equal(t, 12, schedules)

	// A restored store starts with an empty change log.
	var changes int
	require.NoError(t, dst.QueryRow("SELECT COUNT(*) FROM sync_changes").Scan(&changes))
	require.Equal(t, 0, changes)

	// Importing the same document again changes nothing.
	_, err = Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	var txns int
	require.NoError(t, dst.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&txns))
	require.Equal(t, 1, txns)
}

func TestImportRejectsBadDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	_, err := Import(ctx, db, strings.NewReader("not json"))
	require.True(t, apperr.IsValidationError(err))

	_, err = Import(ctx, db, strings.NewReader(`{"version": 99, "data": {}}`))
	require.True(t, apperr.IsValidationError(err))
}
