package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
	"github.com/finledger/finledger/internal/engine"
)

const testOwner = "owner-1"

func newTestMutEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return engine.New(db, zerolog.Nop())
}

// fakeServer is an in-memory sync server good enough for one client.
type fakeServer struct {
	t         *testing.T
	pushes    []PushRequest
	conflicts []Conflict
	pending   []Change // changes the next pull returns
	failPush  bool
	failPull  bool
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", func(w http.ResponseWriter, r *http.Request) {
		if s.failPush {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var req PushRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		s.pushes = append(s.pushes, req)
		writeJSON(w, PushResponse{
			Processed:       len(req.Changes),
			Conflicts:       s.conflicts,
			ServerTimestamp: time.Now().UTC(),
		})
	})
	mux.HandleFunc("POST /sync/pull", func(w http.ResponseWriter, r *http.Request) {
		if s.failPull {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, PullResponse{Changes: s.pending, ServerTimestamp: time.Now().UTC()})
	})
	mux.HandleFunc("POST /sync/full", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, PullResponse{Changes: s.pending, ServerTimestamp: time.Now().UTC()})
	})
	mux.HandleFunc("POST /sync/conflicts/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestSync(t *testing.T, srv *fakeServer) (*Engine, *engine.Engine) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	mut := newTestMutEngine(t)
	client := NewClient(ts.URL, "test-token", 5*time.Second)
	return NewEngine(mut, client, 100, zerolog.Nop()), mut
}

func mustAccount(t *testing.T, mut *engine.Engine) *repository.Account {
	t.Helper()
	acct, err := mut.CreateAccount(context.Background(), testOwner, engine.AccountInput{
		Name: "Checking", Type: "bank", Currency: "USD",
	})
	require.NoError(t, err)
	return acct
}

func TestPushSendsPendingInOrderAndMarksPushed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, mut := newTestSync(t, srv)

	acct := mustAccount(t, mut)
	_, err := mut.CreateTransaction(ctx, testOwner, engine.TransactionInput{
		AccountID: acct.ID, Type: "income", Amount: 1000, Date: database.Now(),
	})
	require.NoError(t, err)

	res, err := se.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Pushed)
	require.Equal(t, 0, res.Conflicts)

	require.Len(t, srv.pushes, 1)
	sent := srv.pushes[0].Changes
	require.Len(t, sent, 2)
	require.Equal(t, "account", sent[0].EntityType)
	require.Equal(t, "transaction", sent[1].EntityType)

	// Nothing pending afterwards; a second sync pushes nothing.
	res, err = se.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Pushed)
	require.Len(t, srv.pushes, 1)
	require.Equal(t, StateIdle, se.State())
}

func TestFailedPushLeavesChangeLogUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t, failPush: true}
	se, mut := newTestSync(t, srv)

	mustAccount(t, mut)

	_, err := se.Sync(ctx)
	require.True(t, apperr.IsNetworkError(err))

	// The change survives and a later sync delivers it.
	srv.failPush = false
	res, err := se.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Pushed)
}

func TestPullAppliesChangesAndAdvancesCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, mut := newTestSync(t, srv)
	acct := mustAccount(t, mut)

	remote := repository.Transaction{
		ID: uuid.NewString(), OwnerID: testOwner, AccountID: acct.ID,
		Type: "expense", Amount: 250, Date: database.Now(),
		CreatedAt: database.Now(), UpdatedAt: database.Now(),
	}
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	srv.pending = []Change{{
		ID: uuid.NewString(), EntityType: "transaction", EntityID: remote.ID,
		Operation: "create", Data: data, ClientTimestamp: database.Now(),
	}}

	res, err := se.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Pulled)

	got, err := mut.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, int64(-250), got.Balance)

	checkpoint, err := repository.NewSyncRepo(mut.DB).LastSyncTimestamp(ctx)
	require.NoError(t, err)
	require.False(t, checkpoint.IsZero())
}

func TestFailedPullLeavesCheckpointUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t, failPull: true}
	se, mut := newTestSync(t, srv)

	_, err := se.Pull(ctx)
	require.True(t, apperr.IsNetworkError(err))

	checkpoint, err := repository.NewSyncRepo(mut.DB).LastSyncTimestamp(ctx)
	require.NoError(t, err)
	require.True(t, checkpoint.IsZero())
}

func TestPushConflictRecordedAndResolvedLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, mut := newTestSync(t, srv)
	acct := mustAccount(t, mut)

	local := *acct
	local.Name = "My name"
	localData, err := json.Marshal(local)
	require.NoError(t, err)
	server := *acct
	server.Name = "Server name"
	serverData, err := json.Marshal(server)
	require.NoError(t, err)

	srv.conflicts = []Conflict{{
		ID: uuid.NewString(), EntityType: "account", EntityID: acct.ID,
		LocalChange: localData, ServerChange: serverData,
	}}

	res, err := se.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Conflicts)

	conflicts, err := se.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	require.NoError(t, se.ResolveConflict(ctx, conflicts[0].ID, ResolutionLocal, nil))

	got, err := mut.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "My name", got.Name)

	conflicts, err = se.Conflicts(ctx)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	// The local choice is re-queued for the next push.
	pending, err := repository.NewSyncRepo(mut.DB).PendingChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, acct.ID, pending[0].EntityID)
}

func TestResolveConflictServerSide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, mut := newTestSync(t, srv)
	acct := mustAccount(t, mut)

	server := *acct
	server.Name = "Server name"
	serverData, err := json.Marshal(server)
	require.NoError(t, err)

	srv.conflicts = []Conflict{{
		ID: uuid.NewString(), EntityType: "account", EntityID: acct.ID,
		ServerChange: serverData,
	}}
	_, err = se.Sync(ctx)
	require.NoError(t, err)

	conflicts, err := se.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	require.NoError(t, se.ResolveConflict(ctx, conflicts[0].ID, ResolutionServer, nil))

	got, err := mut.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Server name", got.Name)

	// Server-side resolutions are not echoed back.
	pending, err := repository.NewSyncRepo(mut.DB).PendingChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Resolving twice is rejected.
	err = se.ResolveConflict(ctx, conflicts[0].ID, ResolutionServer, nil)
	require.True(t, apperr.IsConflictError(err))
}

func TestResolveConflictMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, mut := newTestSync(t, srv)
	acct := mustAccount(t, mut)

	srv.conflicts = []Conflict{{
		ID: uuid.NewString(), EntityType: "account", EntityID: acct.ID,
	}}
	_, err := se.Sync(ctx)
	require.NoError(t, err)
	conflicts, err := se.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// Merge without a payload is invalid.
	err = se.ResolveConflict(ctx, conflicts[0].ID, ResolutionMerge, nil)
	require.True(t, apperr.IsValidationError(err))

	merged := *acct
	merged.Name = "Merged name"
	mergedData, err := json.Marshal(merged)
	require.NoError(t, err)
	require.NoError(t, se.ResolveConflict(ctx, conflicts[0].ID, ResolutionMerge, mergedData))

	got, err := mut.GetAccount(ctx, testOwner, acct.ID)
	require.NoError(t, err)
	require.Equal(t, "Merged name", got.Name)
}

func TestResolveUnknownConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := &fakeServer{t: t}
	se, _ := newTestSync(t, srv)

	err := se.ResolveConflict(ctx, "nope", ResolutionLocal, nil)
	require.True(t, apperr.IsNotFoundError(err))
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	client := NewClient(slow.URL, "", 20*time.Millisecond)
	_, err := client.Pull(context.Background(), PullRequest{})
	require.True(t, apperr.IsTimeoutError(err))
}
