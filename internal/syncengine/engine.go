package syncengine

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/prestapp/internal/remote"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoMatch is returned by a Resolver that found no remote counterpart.
	ErrNoMatch = errors.New("syncengine: no remote match")

	errMissingEntity = errors.New("syncengine: entity name is required")
	errMissingLocal  = errors.New("syncengine: local table is required")
	errMissingRemote = errors.New("syncengine: remote adapter is required")
)

// Local is the slice of the local store the engine drives.
type Local[R any] interface {
	Pending(ctx context.Context) ([]R, error)
	Get(ctx context.Context, id int64) (R, error)
	RewriteID(ctx context.Context, oldID, newID int64) error
	ClearPending(ctx context.Context, id, revision int64) error
	DeleteByID(ctx context.Context, id int64) error
}

// Remote pushes rows to the remote service. Create returns the server id.
type Remote[R any] interface {
	Create(ctx context.Context, row R) (int64, error)
	Update(ctx context.Context, row R) error
	Delete(ctx context.Context, id int64) error
}

// Resolver finds the server id of a row whose id the server no longer knows.
type Resolver[R any] interface {
	Resolve(ctx context.Context, row R) (int64, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc[R any] func(ctx context.Context, row R) (int64, error)

func (f ResolverFunc[R]) Resolve(ctx context.Context, row R) (int64, error) {
	return f(ctx, row)
}

// Config wires an Engine for one entity.
type Config[R store.Record[R]] struct {
	Entity string
	Local  Local[R]
	Remote Remote[R]
	// Resolver is optional; without it an update answered with 404 stays pending.
	Resolver Resolver[R]
	// SkipBatchDeletes leaves tombstones out of Reconcile. SyncRow and
	// DeleteNow still delete them remotely.
	SkipBatchDeletes bool
	// Prepare adjusts a row right before it is sent.
	Prepare func(ctx context.Context, row R) (R, error)
	Logger  *zap.Logger
}

// Engine reconciles the local rows of one entity with the remote service.
type Engine[R store.Record[R]] struct {
	entity           string
	local            Local[R]
	remote           Remote[R]
	resolver         Resolver[R]
	skipBatchDeletes bool
	prepare          func(ctx context.Context, row R) (R, error)
	logger           *zap.Logger

	rows   sync.Mutex
	passes singleflight.Group
}

func New[R store.Record[R]](cfg Config[R]) (*Engine[R], error) {
	if cfg.Entity == "" {
		return nil, errMissingEntity
	}
	if cfg.Local == nil {
		return nil, errMissingLocal
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine[R]{
		entity:           cfg.Entity,
		local:            cfg.Local,
		remote:           cfg.Remote,
		resolver:         cfg.Resolver,
		skipBatchDeletes: cfg.SkipBatchDeletes,
		prepare:          cfg.Prepare,
		logger:           logger,
	}, nil
}

func (e *Engine[R]) Entity() string {
	return e.entity
}

// Reconcile pushes every pending or tombstoned row. Concurrent callers share
// the pass already in flight. Failures stay pending and are only logged.
func (e *Engine[R]) Reconcile(ctx context.Context) Report {
	value, _, _ := e.passes.Do(e.entity, func() (any, error) {
		return e.reconcile(ctx), nil
	})
	return value.(Report)
}

func (e *Engine[R]) reconcile(ctx context.Context) Report {
	report := Report{Entity: e.entity}
	rows, err := e.local.Pending(ctx)
	if err != nil {
		e.logError("sync.reconcile", "pending_load_failed", err)
		return report
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		report.record(e.syncRow(ctx, row.Key(), true))
	}
	if len(rows) > 0 {
		e.logger.Info("reconciliation pass finished",
			zap.String("entity", e.entity),
			zap.Int("rows", len(rows)),
			zap.Int("settled", report.Settled()),
			zap.Int("remaining", report.Remaining()))
	}
	return report
}

// SyncRow runs the transition for a single row. The row is re-read under the
// engine lock so a row already settled by another caller is left alone.
func (e *Engine[R]) SyncRow(ctx context.Context, id int64) Outcome {
	return e.syncRow(ctx, id, false)
}

func (e *Engine[R]) syncRow(ctx context.Context, id int64, batch bool) Outcome {
	e.rows.Lock()
	defer e.rows.Unlock()

	row, err := e.local.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeSkipped
	}
	if err != nil {
		e.logError("sync.row", "local_load_failed", err, zap.Int64("id", id))
		return OutcomeFailed
	}

	switch Classify(row.Key(), row.State()) {
	case StateTombstoned:
		if batch && e.skipBatchDeletes {
			return OutcomeSkipped
		}
		return e.pushDelete(ctx, row.Key())
	case StatePendingCreate:
		return e.pushCreate(ctx, row)
	case StatePendingUpdate:
		return e.pushUpdate(ctx, row)
	default:
		return OutcomeSkipped
	}
}

// DeleteNow deletes id remotely whatever the local row looks like, then
// removes the local row. It is used when the tombstone itself could not be written.
func (e *Engine[R]) DeleteNow(ctx context.Context, id int64) Outcome {
	e.rows.Lock()
	defer e.rows.Unlock()
	return e.pushDelete(ctx, id)
}

func (e *Engine[R]) pushDelete(ctx context.Context, id int64) Outcome {
	err := e.remote.Delete(ctx, id)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		e.logRemoteFailure("delete", id, err)
		return OutcomeFailed
	}
	if err := e.local.DeleteByID(ctx, id); err != nil {
		e.logError("sync.delete", "local_delete_failed", err, zap.Int64("id", id))
		return OutcomeFailed
	}
	return OutcomeDeleted
}

func (e *Engine[R]) pushCreate(ctx context.Context, row R) Outcome {
	tempID := row.Key()
	outgoing, ok := e.prepared(ctx, row)
	if !ok {
		return OutcomeFailed
	}
	serverID, err := e.remote.Create(ctx, outgoing)
	if err != nil {
		e.logRemoteFailure("create", tempID, err)
		return OutcomeFailed
	}
	if serverID <= 0 {
		e.logError("sync.create", "invalid_server_id", nil,
			zap.Int64("id", tempID), zap.Int64("server_id", serverID))
		return OutcomeFailed
	}
	if !e.settle(ctx, "sync.create", tempID, serverID, row.State().Revision) {
		return OutcomeFailed
	}
	e.logger.Debug("row created remotely",
		zap.String("entity", e.entity), zap.Int64("temp_id", tempID), zap.Int64("id", serverID))
	return OutcomeCreated
}

func (e *Engine[R]) pushUpdate(ctx context.Context, row R) Outcome {
	id := row.Key()
	outgoing, ok := e.prepared(ctx, row)
	if !ok {
		return OutcomeFailed
	}
	err := e.remote.Update(ctx, outgoing)
	if err == nil {
		if !e.confirm(ctx, "sync.update", id, row.State().Revision) {
			return OutcomeFailed
		}
		return OutcomeUpdated
	}
	if !errors.Is(err, remote.ErrNotFound) {
		e.logRemoteFailure("update", id, err)
		return OutcomeFailed
	}
	return e.recoverByNaturalKey(ctx, row)
}

// recoverByNaturalKey handles an update the server answered with 404 by locating the
// row's server id through its natural key. Without a match the row stays pending.
func (e *Engine[R]) recoverByNaturalKey(ctx context.Context, row R) Outcome {
	id := row.Key()
	if e.resolver == nil {
		e.logger.Warn("remote row missing and entity has no natural key",
			zap.String("entity", e.entity), zap.Int64("id", id))
		return OutcomeUnresolved
	}
	serverID, err := e.resolver.Resolve(ctx, row)
	if errors.Is(err, ErrNoMatch) || errors.Is(err, remote.ErrNotFound) {
		e.logger.Warn("remote row missing and no natural key match",
			zap.String("entity", e.entity), zap.Int64("id", id))
		return OutcomeUnresolved
	}
	if err != nil {
		e.logRemoteFailure("resolve", id, err)
		return OutcomeFailed
	}
	if serverID <= 0 || serverID == id {
		e.logger.Warn("natural key lookup returned an unusable id",
			zap.String("entity", e.entity), zap.Int64("id", id), zap.Int64("server_id", serverID))
		return OutcomeUnresolved
	}
	if !e.settle(ctx, "sync.recover", id, serverID, row.State().Revision) {
		return OutcomeFailed
	}
	e.logger.Info("row recovered by natural key",
		zap.String("entity", e.entity), zap.Int64("previous_id", id), zap.Int64("id", serverID))
	return OutcomeRecovered
}

// settle moves the row to its server id and then clears the pending flag.
// A crash between the two steps leaves a pending row under the server id,
// which the next pass updates.
func (e *Engine[R]) settle(ctx context.Context, operation string, oldID, serverID, revision int64) bool {
	if err := e.local.RewriteID(ctx, oldID, serverID); err != nil {
		e.logError(operation, "rewrite_id_failed", err,
			zap.Int64("id", oldID), zap.Int64("server_id", serverID))
		return false
	}
	return e.confirm(ctx, operation, serverID, revision)
}

// confirm clears the pending flag of a row still at the revision that was
// sent. A row edited in the meantime stays pending for the next push.
func (e *Engine[R]) confirm(ctx context.Context, operation string, id, revision int64) bool {
	err := e.local.ClearPending(ctx, id, revision)
	if errors.Is(err, store.ErrStale) {
		e.logger.Info("row changed while syncing; left pending",
			zap.String("entity", e.entity), zap.Int64("id", id))
		return true
	}
	if err != nil {
		e.logError(operation, "clear_pending_failed", err, zap.Int64("id", id))
		return false
	}
	return true
}

func (e *Engine[R]) prepared(ctx context.Context, row R) (R, bool) {
	if e.prepare == nil {
		return row, true
	}
	outgoing, err := e.prepare(ctx, row)
	if err != nil {
		e.logError("sync.prepare", "prepare_failed", err, zap.Int64("id", row.Key()))
		return row, false
	}
	return outgoing, true
}

func (e *Engine[R]) logRemoteFailure(action string, id int64, err error) {
	e.logger.Warn("remote sync failed",
		zap.String("entity", e.entity),
		zap.String("action", action),
		zap.Int64("id", id),
		zap.Error(err))
}

func (e *Engine[R]) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("entity", e.entity),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("sync engine error", attrs...)
}
