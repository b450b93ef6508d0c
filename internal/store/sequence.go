package store

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

// SequenceRecord persists the next temporary id handed out per table.
type SequenceRecord struct {
	Entity string `gorm:"column:entity;primaryKey;size:64;not null"`
	NextID int64  `gorm:"column:next_id;not null"`
}

// TableName exposes the table backing temporary id sequences.
func (SequenceRecord) TableName() string {
	return "id_sequences"
}

// allocateTempID returns a strictly decreasing negative id that survives restarts.
// A missing sequence starts below the lowest id already stored in table.
func allocateTempID(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var allocated int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sequence SequenceRecord
		err := tx.Where("entity = ?", table).Take(&sequence).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			floor, err := lowestTempID(tx, table)
			if err != nil {
				return err
			}
			sequence = SequenceRecord{Entity: table, NextID: floor}
			if err := tx.Create(&sequence).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		allocated = sequence.NextID
		return tx.Model(&SequenceRecord{}).
			Where("entity = ?", table).
			Update("next_id", sequence.NextID-1).Error
	})
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

func lowestTempID(tx *gorm.DB, table string) (int64, error) {
	var lowest sql.NullInt64
	if err := tx.Table(table).Select("MIN(id)").Row().Scan(&lowest); err != nil {
		return 0, err
	}
	if !lowest.Valid || lowest.Int64 >= 0 {
		return -1, nil
	}
	return lowest.Int64 - 1, nil
}
