package database

import (
	"context"
	"fmt"

	"smartbch-indexer/config"
	"smartbch-indexer/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const tcp = "tcp"

var (
	// List entities to auto-migrate
	entities = []interface{}{
		State{},
		Block{},
		Transaction{},
		TransactionTransfer{},
		Subscription{},
		NotificationLog{},
		FailedNotification{},
		TokenContract{},
	}
	DBTransactionBatchesSize = 1000
)

func ConnectAndInitialize(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("ConnectAndInitialize: Connect: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the tables and seeds the state rows.
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(entities...)
	if err != nil {
		return errors.Wrap(err, "Migrate: AutoMigrate")
	}

	return initStates(ctx, db)
}

func Connect(cfg *config.DBConfig) (*gorm.DB, error) {
	// Connect to the database
	dbConfig := mysql.Config{
		User:                 cfg.Username,
		Passwd:               cfg.Password,
		Net:                  tcp,
		Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		AllowNativePasswords: true,
		ParseTime:            true,
	}

	return gorm.Open(gormMysql.Open(dbConfig.FormatDSN()), gormConfig(cfg))
}

func gormConfig(cfg *config.DBConfig) *gorm.Config {
	return &gorm.Config{
		Logger:          logger.GormLogger{}.LogMode(getGormLogLevel(cfg)),
		CreateBatchSize: DBTransactionBatchesSize,
	}
}

func getGormLogLevel(cfg *config.DBConfig) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}
