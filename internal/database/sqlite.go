package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/comments"
	"github.com/readingroom/catalog/internal/ratings"
	"github.com/readingroom/catalog/internal/visitors"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Cascading deletes across books, visitors, comments and ratings
	// rely on enforced foreign keys.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or updates the schema for every persisted model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&visitors.Account{},
		&visitors.Visitor{},
		&catalog.Author{},
		&catalog.Book{},
		&catalog.Image{},
		&comments.Comment{},
		&ratings.BookRate{},
		&migrationRecord{},
	)
}
