package database

import (
	"context"
	"fmt"

	"smartbch-indexer/config"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectTestDB opens a private in-memory SQLite database with every table
// migrated. Each call gets its own database.
func ConnectTestDB(ctx context.Context) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(&config.DBConfig{}))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// The in-memory database lives as long as one connection stays open.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}
