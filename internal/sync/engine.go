package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
	"github.com/finledger/finledger/internal/engine"
)

// State is the current phase of the sync cycle.
type State string

const (
	StateIdle        State = "idle"
	StatePushing     State = "pushing"
	StatePulling     State = "pulling"
	StateReconciling State = "reconciling"
)

// Resolution choices for a recorded conflict.
const (
	ResolutionLocal  = "local"
	ResolutionServer = "server"
	ResolutionMerge  = "merge"
)

// Result summarizes one sync cycle.
type Result struct {
	Pushed    int
	Pulled    int
	Conflicts int
}

// Engine drives the push/pull cycle against the sync server. Local state is
// only advanced after the corresponding server call succeeds, so an aborted
// cycle can always be retried from the stored checkpoint.
type Engine struct {
	mut      *engine.Engine
	sync     *repository.SyncRepo
	client   *Client
	log      zerolog.Logger
	pageSize int

	mu    stdsync.Mutex
	state State
}

func NewEngine(mut *engine.Engine, client *Client, pageSize int, log zerolog.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Engine{
		mut:      mut,
		sync:     repository.NewSyncRepo(mut.DB),
		client:   client,
		log:      log,
		pageSize: pageSize,
		state:    StateIdle,
	}
}

// State reports the current cycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Sync runs one full cycle: push pending local changes, then pull and apply
// remote changes. Unresolved conflicts do not abort the cycle; they persist
// until resolved.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	res := &Result{}

	e.setState(StatePushing)
	defer e.setState(StateIdle)

	pushed, conflicts, err := e.push(ctx)
	if err != nil {
		return nil, err
	}
	res.Pushed = pushed
	res.Conflicts = conflicts

	e.setState(StatePulling)
	pulled, err := e.pull(ctx)
	if err != nil {
		return nil, err
	}
	res.Pulled = pulled

	e.setState(StateReconciling)
	unresolved, err := e.sync.UnresolvedConflicts(ctx)
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		e.log.Warn().Int("count", len(unresolved)).Msg("sync finished with unresolved conflicts")
	}
	return res, nil
}

// Push sends pending local changes to the server.
func (e *Engine) Push(ctx context.Context) (*Result, error) {
	e.setState(StatePushing)
	defer e.setState(StateIdle)
	pushed, conflicts, err := e.push(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Pushed: pushed, Conflicts: conflicts}, nil
}

func (e *Engine) push(ctx context.Context) (pushed, conflicts int, err error) {
	pending, err := e.sync.PendingChanges(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}
	checkpoint, err := e.sync.LastSyncTimestamp(ctx)
	if err != nil {
		return 0, 0, err
	}

	wire := make([]Change, 0, len(pending))
	for _, c := range pending {
		wire = append(wire, toWire(c))
	}

	resp, err := e.client.Push(ctx, PushRequest{Changes: wire, LastSyncTimestamp: checkpoint})
	if err != nil {
		// The change log is untouched; the next push retries everything.
		return 0, 0, err
	}

	now := database.Now()
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	if err := e.sync.MarkPushed(ctx, ids, resp.ServerTimestamp); err != nil {
		return 0, 0, err
	}
	for _, c := range resp.Conflicts {
		rec := repository.SyncConflict{
			ID:           c.ID,
			EntityType:   c.EntityType,
			EntityID:     c.EntityID,
			LocalChange:  string(c.LocalChange),
			ServerChange: string(c.ServerChange),
			CreatedAt:    now,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if err := e.sync.InsertConflict(ctx, rec); err != nil {
			return 0, 0, err
		}
		e.log.Warn().
			Err(apperr.NewSyncConflictError(c.EntityType, c.EntityID)).
			Msg("push reported conflict")
	}
	return resp.Processed, len(resp.Conflicts), nil
}

// Pull fetches and applies remote changes since the checkpoint, optionally
// restricted to the given entity types. The checkpoint only advances after
// every page applied cleanly.
func (e *Engine) Pull(ctx context.Context, entityTypes ...string) (*Result, error) {
	e.setState(StatePulling)
	defer e.setState(StateIdle)
	pulled, err := e.pull(ctx, entityTypes...)
	if err != nil {
		return nil, err
	}
	return &Result{Pulled: pulled}, nil
}

func (e *Engine) pull(ctx context.Context, entityTypes ...string) (int, error) {
	checkpoint, err := e.sync.LastSyncTimestamp(ctx)
	if err != nil {
		return 0, err
	}
	return e.pullFrom(ctx, checkpoint, e.client.Pull, entityTypes...)
}

func (e *Engine) pullFrom(ctx context.Context, since time.Time,
	fetch func(context.Context, PullRequest) (*PullResponse, error), entityTypes ...string) (int, error) {

	applied := 0
	var serverTimestamp time.Time
	for {
		resp, err := fetch(ctx, PullRequest{LastSyncTimestamp: since, EntityTypes: entityTypes})
		if err != nil {
			return applied, err
		}
		for _, c := range resp.Changes {
			if err := e.mut.ApplyRemoteChange(ctx, fromWire(c)); err != nil {
				// Checkpoint untouched; the failed change is retried on
				// the next pull.
				return applied, fmt.Errorf("apply %s %s: %w", c.EntityType, c.EntityID, err)
			}
			applied++
		}
		serverTimestamp = resp.ServerTimestamp
		if !resp.HasMore {
			break
		}
	}
	if err := e.sync.SetLastSyncTimestamp(ctx, serverTimestamp, database.Now()); err != nil {
		return applied, err
	}
	return applied, nil
}

// FullSync discards the checkpoint and rebuilds local state from the server's
// complete current dataset.
func (e *Engine) FullSync(ctx context.Context) (*Result, error) {
	e.setState(StatePulling)
	defer e.setState(StateIdle)

	if err := e.sync.ClearLastSyncTimestamp(ctx, database.Now()); err != nil {
		return nil, err
	}
	pulled, err := e.pullFrom(ctx, time.Time{}, e.client.Full)
	if err != nil {
		return nil, err
	}
	return &Result{Pulled: pulled}, nil
}

// Conflicts lists locally recorded conflicts awaiting resolution.
func (e *Engine) Conflicts(ctx context.Context) ([]repository.SyncConflict, error) {
	return e.sync.UnresolvedConflicts(ctx)
}

// ResolveConflict applies the chosen side of a recorded conflict and marks it
// resolved. "local" re-applies the local change and queues it for push;
// "server" applies the server's version without re-queueing; "merge" applies
// caller-supplied merged data and queues it. Derived fields in any payload
// are ignored and recomputed from source rows.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID, resolution string, mergedData json.RawMessage) error {
	conflict, err := e.sync.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if conflict == nil {
		return apperr.NewNotFoundError("conflict", conflictID)
	}
	if conflict.Resolved {
		return apperr.NewConflictError("conflict %s is already resolved", conflictID)
	}

	e.setState(StateReconciling)
	defer e.setState(StateIdle)

	switch resolution {
	case ResolutionLocal:
		change, err := parseConflictChange(conflict.LocalChange, conflict)
		if err != nil {
			return err
		}
		if err := e.mut.ApplyResolution(ctx, change, true); err != nil {
			return err
		}
	case ResolutionServer:
		change, err := parseConflictChange(conflict.ServerChange, conflict)
		if err != nil {
			return err
		}
		if err := e.mut.ApplyResolution(ctx, change, false); err != nil {
			return err
		}
	case ResolutionMerge:
		if len(mergedData) == 0 {
			return apperr.NewValidationError("merge resolution requires merged data")
		}
		change := repository.SyncChange{
			EntityType: conflict.EntityType,
			EntityID:   conflict.EntityID,
			Operation:  engine.OpUpdate,
			Data:       string(mergedData),
		}
		if err := e.mut.ApplyResolution(ctx, change, true); err != nil {
			return err
		}
	default:
		return apperr.NewValidationError("unknown resolution %q", resolution)
	}

	if err := e.sync.MarkConflictResolved(ctx, conflictID, resolution, database.Now()); err != nil {
		return err
	}

	// Best effort: the server learns the choice now or on the next push.
	if err := e.client.Resolve(ctx, conflictID, ResolveRequest{Resolution: resolution, MergedData: mergedData}); err != nil {
		e.log.Warn().Err(err).Str("conflict_id", conflictID).Msg("could not report resolution to server")
	}
	return nil
}

// parseConflictChange turns a stored conflict payload back into an applicable
// change. Older records hold the bare entity payload rather than a change
// envelope; those are treated as updates.
func parseConflictChange(stored string, conflict *repository.SyncConflict) (repository.SyncChange, error) {
	var wire Change
	if err := json.Unmarshal([]byte(stored), &wire); err == nil && wire.EntityType != "" && len(wire.Data) > 0 {
		return fromWire(wire), nil
	}
	return repository.SyncChange{
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
		Operation:  engine.OpUpdate,
		Data:       stored,
	}, nil
}

func toWire(c repository.SyncChange) Change {
	return Change{
		ID:              c.ID,
		EntityType:      c.EntityType,
		EntityID:        c.EntityID,
		Operation:       c.Operation,
		Data:            json.RawMessage(c.Data),
		ClientTimestamp: c.ClientTimestamp,
		ServerTimestamp: c.ServerTimestamp,
	}
}

func fromWire(c Change) repository.SyncChange {
	return repository.SyncChange{
		ID:              c.ID,
		EntityType:      c.EntityType,
		EntityID:        c.EntityID,
		Operation:       c.Operation,
		Data:            string(c.Data),
		ClientTimestamp: c.ClientTimestamp,
		ServerTimestamp: c.ServerTimestamp,
	}
}
