package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/service"
)

type tickStore struct {
	db *gorm.DB
}

var _ service.TickRecorder = (*tickStore)(nil)

// NewTickStore creates the append-only raw trade audit store backed by db.
func NewTickStore(db *gorm.DB) *tickStore {
	return &tickStore{db: db}
}

// TickModel is the database row for one raw trade event, captured before
// aggregation for audit. No uniqueness constraint: the table records exactly
// what arrived, duplicates and stragglers included.
type TickModel struct {
	ID        uint            `gorm:"primaryKey"`
	Symbol    string          `gorm:"size:32;not null;index"`
	Price     decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Quantity  decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	TradeTime time.Time       `gorm:"not null"`
}

func (TickModel) TableName() string {
	return "raw_ticks"
}

// Record appends one raw trade event.
func (s *tickStore) Record(ctx context.Context, trade model.TradeEvent) error {
	m := TickModel{
		Symbol:    trade.Symbol,
		Price:     trade.Price,
		Quantity:  trade.Quantity,
		TradeTime: trade.Time,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}
