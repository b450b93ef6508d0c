package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes the local store connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return open(path, logger, store.Models(), localMigrations())
}

// OpenServerSQLite opens the remote service database and migrates the given models.
func OpenServerSQLite(path string, logger *zap.Logger, models ...any) (*gorm.DB, error) {
	return open(path, logger, models, nil)
}

func open(path string, logger *zap.Logger, models []any, migrations []migrationDefinition) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(append(models, &migrationRecord{})...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger, migrations); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
