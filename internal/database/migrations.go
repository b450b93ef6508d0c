package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLocalKeys = "2026-10-01_backfill_local_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func localMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationBackfillLocalKeys, apply: backfillLocalKeys},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, migrations []migrationDefinition) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillLocalKeys assigns a local key to rows written before keys existed.
func backfillLocalKeys(db *gorm.DB) error {
	keys := store.NewUUIDProvider()
	tables := []string{
		store.RouteRecord{}.TableName(),
		store.ClientRecord{}.TableName(),
		store.LoanRecord{}.TableName(),
		store.PaymentRecord{}.TableName(),
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			var ids []int64
			if err := tx.Table(table).Where("local_key IS NULL OR local_key = ''").Pluck("id", &ids).Error; err != nil {
				return err
			}
			for _, id := range ids {
				key, err := keys.NewKey()
				if err != nil {
					return err
				}
				if err := tx.Table(table).Where("id = ?", id).Update("local_key", key).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
