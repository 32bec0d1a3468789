package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("migrations")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(dbPath, migrations))
	// Re-running migrations is a no-op.
	require.NoError(t, RunMigrations(dbPath, migrations))

	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	t.Parallel()
	db := openMigrated(t)

	var on int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&on))
	require.Equal(t, 1, on)

	// A child row without its parent is rejected.
	_, err := db.Exec(`INSERT INTO goal_contributions(id, goal_id, amount, date, created_at, updated_at)
		VALUES ('c1', 'missing-goal', 100, ?, ?, ?)`, Now(), Now(), Now())
	require.Error(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	db := openMigrated(t)
	boom := errors.New("boom")

	err := WithTx(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO accounts(id, owner_id, name, type, balance, currency, is_archived, sort_order, created_at, updated_at)
			VALUES ('a1', 'o1', 'X', 'bank', 0, 'USD', 0, 0, ?, ?)`, Now(), Now())
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&n))
	require.Equal(t, 0, n)
}

func TestNowIsUTCSecondPrecision(t *testing.T) {
	t.Parallel()
	now := Now()
	require.Equal(t, time.UTC, now.Location())
	require.Zero(t, now.Nanosecond())
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	t.Parallel()
	db := openMigrated(t)
	ctx := context.Background()

	require.NoError(t, SeedDefaults(ctx, db, "owner-1"))
	var first int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM categories WHERE is_system = 1").Scan(&first))
	require.Positive(t, first)

	require.NoError(t, SeedDefaults(ctx, db, "owner-1"))
	var second int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM categories WHERE is_system = 1").Scan(&second))
	require.Equal(t, first, second)
}

func TestRunMigrationsFromPath(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("migrations")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(dbPath, migrations))

	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sync_state").Scan(&n))
}

func TestRunEmbeddedMigrations(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunEmbeddedMigrations(db))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sync_state").Scan(&n))
}
