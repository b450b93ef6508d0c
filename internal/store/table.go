package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound reports a missing (or, for active reads, tombstoned) row.
	ErrNotFound = errors.New("store: record not found")
	// ErrIDInUse reports a rewrite onto an id another row already holds.
	ErrIDInUse = errors.New("store: id already in use")
	// ErrStale reports a row written again after the revision the caller holds.
	ErrStale = errors.New("store: row changed since it was read")
)

type foreignKey struct {
	table  string
	column string
}

type tableOptions struct {
	cascades []foreignKey
	// pendingIncludesDeleted selects tombstones in Pending as well.
	pendingIncludesDeleted bool
}

// Table provides the sync-aware row operations for one entity table.
type Table[R Record[R]] struct {
	db      *gorm.DB
	name    string
	options tableOptions
	publish func(Change)
}

func newTable[R Record[R]](db *gorm.DB, name string, options tableOptions, publish func(Change)) *Table[R] {
	return &Table[R]{db: db, name: name, options: options, publish: publish}
}

// Name returns the backing table name.
func (t *Table[R]) Name() string {
	return t.name
}

// Get loads a row by id regardless of its sync state.
func (t *Table[R]) Get(ctx context.Context, id int64) (R, error) {
	var row R
	err := t.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	return row, err
}

// GetActive loads a row by id unless it is tombstoned.
func (t *Table[R]) GetActive(ctx context.Context, id int64) (R, error) {
	var row R
	err := t.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	return row, err
}

// FindByLocalKey loads a row by its client-generated key.
func (t *Table[R]) FindByLocalKey(ctx context.Context, localKey string) (R, error) {
	var row R
	err := t.db.WithContext(ctx).Where("local_key = ?", localKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	return row, err
}

// Pending returns the rows that still need a remote round trip.
func (t *Table[R]) Pending(ctx context.Context) ([]R, error) {
	query := t.db.WithContext(ctx)
	if t.options.pendingIncludesDeleted {
		query = query.Where("is_pending = ? OR is_deleted = ?", true, true)
	} else {
		query = query.Where("is_pending = ?", true)
	}
	// Temporary ids count down, so -1 was written before -2.
	var rows []R
	if err := query.Order("CASE WHEN id < 0 THEN 0 ELSE 1 END").Order("ABS(id)").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActive returns every row that is not tombstoned.
func (t *Table[R]) ListActive(ctx context.Context) ([]R, error) {
	return t.ListActiveWhere(ctx, "")
}

// ListActiveWhere narrows ListActive with an extra condition.
func (t *Table[R]) ListActiveWhere(ctx context.Context, condition string, args ...any) ([]R, error) {
	query := t.db.WithContext(ctx).Where("is_deleted = ?", false)
	if condition != "" {
		query = query.Where(condition, args...)
	}
	var rows []R
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert writes a new row under the id it already carries.
func (t *Table[R]) Insert(ctx context.Context, row R) error {
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	t.notify(row.Key())
	return nil
}

// Save overwrites every column of an existing row and bumps its revision.
// The revision carried by row is ignored.
func (t *Table[R]) Save(ctx context.Context, row R) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current R
		err := tx.Where("id = ?", row.Key()).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		state := row.State()
		state.Revision = current.State().Revision + 1
		row = row.WithState(state)
		return tx.Model(new(R)).
			Where("id = ?", row.Key()).
			Select("*").
			Updates(&row).
			Error
	})
	if err != nil {
		return err
	}
	t.notify(row.Key())
	return nil
}

// MarkDeleted tombstones a row; it stays stored until the remote confirms.
func (t *Table[R]) MarkDeleted(ctx context.Context, id int64) error {
	return t.updateColumns(ctx, id, map[string]any{
		"is_deleted": true,
		"revision":   gorm.Expr("revision + 1"),
	})
}

// ClearPending marks a row as confirmed by the remote service, provided it
// still holds revision. A row written since then keeps its pending flag and
// ErrStale is returned.
func (t *Table[R]) ClearPending(ctx context.Context, id, revision int64) error {
	result := t.db.WithContext(ctx).
		Model(new(R)).
		Where("id = ? AND revision = ?", id, revision).
		Update("is_pending", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		t.notify(id)
		return nil
	}
	var existing int64
	if err := t.db.WithContext(ctx).Model(new(R)).Where("id = ?", id).Count(&existing).Error; err != nil {
		return err
	}
	if existing == 0 {
		return ErrNotFound
	}
	return ErrStale
}

// DeleteByID physically removes a row. Removing a missing row is not an error.
func (t *Table[R]) DeleteByID(ctx context.Context, id int64) error {
	if err := t.db.WithContext(ctx).Where("id = ?", id).Delete(new(R)).Error; err != nil {
		return err
	}
	t.notify(id)
	return nil
}

// RewriteID moves a row to a new primary key and repoints dependent rows.
func (t *Table[R]) RewriteID(ctx context.Context, oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(new(R)).Where("id = ?", newID).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrIDInUse
		}
		result := tx.Model(new(R)).Where("id = ?", oldID).Update("id", newID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		for _, dependent := range t.options.cascades {
			if err := tx.Table(dependent.table).
				Where(dependent.column+" = ?", oldID).
				Update(dependent.column, newID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.notify(oldID, newID)
	if t.publish != nil {
		for _, dependent := range t.options.cascades {
			t.publish(Change{Table: dependent.table, At: time.Now().UTC()})
		}
	}
	return nil
}

// AllocateTempID reserves the next negative id for this table.
func (t *Table[R]) AllocateTempID(ctx context.Context) (int64, error) {
	return allocateTempID(ctx, t.db, t.name)
}

func (t *Table[R]) updateColumns(ctx context.Context, id int64, values map[string]any) error {
	result := t.db.WithContext(ctx).Model(new(R)).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	t.notify(id)
	return nil
}

func (t *Table[R]) notify(ids ...int64) {
	if t.publish == nil {
		return
	}
	t.publish(Change{Table: t.name, IDs: ids, At: time.Now().UTC()})
}
