// Package storage persists finalized candles and raw trade ticks.
//
// Schema and write semantics mirror the rest of the pipeline's contract: the
// candle table carries a unique (symbol, bucket_time) key and inserts are
// first-write-wins, so re-aggregating an interval after a restart can never
// duplicate or overwrite a stored candle. The raw tick table is append-only
// with no uniqueness constraint.
package storage

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and migrates the pipeline tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the candle and raw tick tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CandleModel{}, &TickModel{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
