package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/service"
)

type candleStore struct {
	db *gorm.DB
}

var _ service.CandleSink = (*candleStore)(nil)

// NewCandleStore creates the durable candle sink backed by db.
func NewCandleStore(db *gorm.DB) *candleStore {
	return &candleStore{db: db}
}

// CandleModel is the database row for a finalized candle.
//
// SentimentScore is owned by the downstream annotation process: the engine
// inserts rows with it unset and never updates it. Because duplicate inserts
// are DO NOTHING, a re-persisted candle cannot clobber a score written
// out-of-band.
type CandleModel struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"size:32;not null;uniqueIndex:candle_sym_bucket,priority:1"`
	BucketTime time.Time `gorm:"not null;uniqueIndex:candle_sym_bucket,priority:2"`

	Open       decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	High       decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Low        decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Close      decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Volume     decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	TradeCount int64           `gorm:"not null;default:0"`

	SentimentScore *float64
}

func (CandleModel) TableName() string {
	return "market_candles"
}

func toCandleModel(c model.Candle) CandleModel {
	return CandleModel{
		Symbol:     c.Symbol,
		BucketTime: c.BucketStart,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		TradeCount: c.TradeCount,
	}
}

// Persist writes one finalized candle.
//
// The insert is idempotent under (symbol, bucket_time): a conflicting row is
// left untouched and the call still succeeds, so retried or re-aggregated
// candles are harmless no-ops. Only genuine storage failures return an error.
func (s *candleStore) Persist(ctx context.Context, candle model.Candle) error {
	m := toCandleModel(candle)

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "bucket_time"}},
		DoNothing: true,
	}).Create(&m).Error
}
