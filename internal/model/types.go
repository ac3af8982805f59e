// Package model defines the core data types flowing through the ingestion
// engine: raw trade events on the way in, finalized candles on the way out.
//
// All monetary values use decimal.Decimal for precise financial calculations,
// avoiding the floating-point rounding errors that accumulate when summing
// large numbers of small trade quantities.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent represents a single executed trade received from the upstream
// venue, already decoded and validated at the transport boundary.
//
// Time is the venue's own execution timestamp. It is the only clock the
// engine consults when assigning a trade to a bucket: local receive time
// never participates in bucketing, so replaying a fixed event sequence
// yields the same candles every time.
type TradeEvent struct {
	Symbol   string          // Instrument symbol in venue form (e.g. "BTCUSDT")
	Price    decimal.Decimal // Execution price, positive
	Quantity decimal.Decimal // Base asset quantity traded, positive
	Time     time.Time       // Venue execution time, UTC
}

// Candle is the immutable OHLCV record produced when a bucket rolls over.
//
// BucketStart is the trade timestamp truncated to the aggregation interval
// and, together with Symbol, uniquely identifies the candle everywhere
// downstream. The durable store enforces that key with a first-write-wins
// insert.
type Candle struct {
	Symbol      string          // Instrument symbol this candle belongs to
	BucketStart time.Time       // Start of the interval, UTC, truncated
	Open        decimal.Decimal // Price of the first trade in the interval
	High        decimal.Decimal // Highest trade price in the interval
	Low         decimal.Decimal // Lowest trade price in the interval
	Close       decimal.Decimal // Price of the most recent trade in the interval
	Volume      decimal.Decimal // Sum of trade quantities in the interval
	TradeCount  int64           // Number of trades folded into the candle
}
