package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"github.com/MarcoPoloResearchLab/prestapp/internal/syncengine"
	"go.uber.org/zap"
)

var (
	// ErrNotFound reports a missing or tombstoned row.
	ErrNotFound = store.ErrNotFound
	// ErrDuplicateCedula reports a second active client with the same national id.
	ErrDuplicateCedula = errors.New("repository: a client with this cedula already exists")

	errMissingStore        = errors.New("repository: store is required")
	errMissingSyncer       = errors.New("repository: row syncer is required")
	errMissingConnectivity = errors.New("repository: connectivity signal is required")
)

// CommandError carries a stable "entity.op.reason" code for callers.
type CommandError struct {
	code string
	err  error
}

func (e *CommandError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CommandError) Unwrap() error {
	return e.err
}

func (e *CommandError) Code() string {
	return e.code
}

func newCommandError(operation, reason string, cause error) error {
	return &CommandError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RowSyncer pushes one row to the remote service.
type RowSyncer interface {
	SyncRow(ctx context.Context, id int64) syncengine.Outcome
	DeleteNow(ctx context.Context, id int64) syncengine.Outcome
}

// Connectivity reports whether the remote service is currently reachable.
type Connectivity interface {
	Connected() bool
}

// commands holds the write-locally-then-sync flow shared by every entity.
type commands[R store.Record[R]] struct {
	table   *store.Table[R]
	changes *store.ChangeFeed
	syncer  RowSyncer
	online  Connectivity
	keys    store.KeyProvider
	logger  *zap.Logger
}

// stamp gives a new row its temporary id, local key and pending flag.
func (c *commands[R]) stamp(ctx context.Context, table *store.Table[R], row R) (R, error) {
	id, err := table.AllocateTempID(ctx)
	if err != nil {
		return row, err
	}
	key, err := c.keys.NewKey()
	if err != nil {
		return row, err
	}
	return row.WithKey(id).WithState(store.SyncState{LocalKey: key, IsPending: true}), nil
}

func (c *commands[R]) add(ctx context.Context, operation string, row R) (R, error) {
	stamped, err := c.stamp(ctx, c.table, row)
	if err != nil {
		c.logError(operation, "allocate_failed", err)
		return row, newCommandError(operation, "allocate_failed", err)
	}
	if err := c.table.Insert(ctx, stamped); err != nil {
		c.logError(operation, "insert_failed", err, zap.Int64("id", stamped.Key()))
		return row, newCommandError(operation, "insert_failed", err)
	}
	return c.syncAndReload(ctx, stamped), nil
}

// update overwrites an active row and marks it pending. The stored local key
// and tombstone flag are kept.
func (c *commands[R]) update(ctx context.Context, operation string, row R) (R, error) {
	updated, err := c.overwrite(ctx, operation, c.table, row)
	if err != nil {
		return row, err
	}
	return c.syncAndReload(ctx, updated), nil
}

// overwrite writes row over the active row with the same id inside table.
// A row that a running sync moved to its server id meanwhile is followed
// through its local key.
func (c *commands[R]) overwrite(ctx context.Context, operation string, table *store.Table[R], row R) (R, error) {
	existing, err := table.GetActive(ctx, row.Key())
	if errors.Is(err, store.ErrNotFound) {
		return row, newCommandError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		c.logError(operation, "load_failed", err, zap.Int64("id", row.Key()))
		return row, newCommandError(operation, "load_failed", err)
	}
	state := existing.State()
	state.IsPending = true
	updated := row.WithState(state)
	err = table.Save(ctx, updated)
	if errors.Is(err, store.ErrNotFound) {
		moved, findErr := table.FindByLocalKey(ctx, state.LocalKey)
		if findErr == nil && !moved.State().IsDeleted {
			updated = updated.WithKey(moved.Key())
			err = table.Save(ctx, updated)
		}
	}
	if err != nil {
		c.logError(operation, "save_failed", err, zap.Int64("id", row.Key()))
		return row, newCommandError(operation, "save_failed", err)
	}
	return updated, nil
}

// remove tombstones id and, when online, deletes it remotely. A failed
// tombstone write is logged and the remote delete still runs.
func (c *commands[R]) remove(ctx context.Context, operation string, id int64) error {
	markErr := c.table.MarkDeleted(ctx, id)
	if markErr != nil && !errors.Is(markErr, store.ErrNotFound) {
		c.logError(operation, "mark_deleted_failed", markErr, zap.Int64("id", id))
	}
	if c.online.Connected() {
		if markErr != nil {
			c.syncer.DeleteNow(ctx, id)
		} else {
			c.syncer.SyncRow(ctx, id)
		}
	}
	if errors.Is(markErr, store.ErrNotFound) {
		return newCommandError(operation, "not_found", ErrNotFound)
	}
	if markErr != nil {
		return newCommandError(operation, "mark_deleted_failed", markErr)
	}
	return nil
}

func (c *commands[R]) get(ctx context.Context, operation string, id int64) (R, error) {
	row, err := c.table.GetActive(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return row, newCommandError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		c.logError(operation, "load_failed", err, zap.Int64("id", id))
		return row, newCommandError(operation, "load_failed", err)
	}
	return row, nil
}

func (c *commands[R]) list(ctx context.Context, operation, condition string, args ...any) ([]R, error) {
	rows, err := c.table.ListActiveWhere(ctx, condition, args...)
	if err != nil {
		c.logError(operation, "list_failed", err)
		return nil, newCommandError(operation, "list_failed", err)
	}
	return rows, nil
}

// syncAndReload pushes the row when online and returns its latest local copy,
// which carries the server id if the push succeeded. A row that another pass
// moved to its server id while still owing this write is pushed under that id.
func (c *commands[R]) syncAndReload(ctx context.Context, row R) R {
	if !c.online.Connected() {
		return row
	}
	c.syncer.SyncRow(ctx, row.Key())
	reloaded, err := c.table.FindByLocalKey(ctx, row.State().LocalKey)
	if err != nil {
		return row
	}
	if reloaded.Key() == row.Key() || !reloaded.State().IsPending || reloaded.State().IsDeleted {
		return reloaded
	}
	c.syncer.SyncRow(ctx, reloaded.Key())
	if latest, err := c.table.FindByLocalKey(ctx, row.State().LocalKey); err == nil {
		return latest
	}
	return reloaded
}

// watch emits the rows returned by load now and after every write to the table.
// The channel closes when ctx ends.
func (c *commands[R]) watch(ctx context.Context, operation string, load func(context.Context) ([]R, error)) <-chan []R {
	out := make(chan []R, 1)
	changes, cleanup := c.changes.Subscribe(ctx, c.table.Name())
	go func() {
		defer close(out)
		defer cleanup()
		emit := func() bool {
			rows, err := load(ctx)
			if err != nil {
				c.logError(operation, "watch_load_failed", err)
				return ctx.Err() == nil
			}
			select {
			case out <- rows:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

func (c *commands[R]) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("repository error", attrs...)
}
