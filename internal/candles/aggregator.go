// Package candles provides real-time OHLCV candlestick aggregation from a
// stream of trade events.
//
// Bucketing is driven entirely by the event's own timestamp: a trade belongs
// to the interval its venue timestamp truncates into, and a bucket closes the
// moment a trade arrives whose truncated timestamp is strictly later. Wall
// clocks are never consulted, which makes the emitted candle sequence a pure
// function of the input sequence.
//
// Thread safety:
//   - The Aggregator is deliberately unsynchronized. It is owned by the
//     single goroutine that consumes the trade stream; per-symbol ordering of
//     that stream is load-bearing for rollover detection, so parallel callers
//     would be incorrect even with a mutex.
//   - Each engine instance owns its own bucket map, so independent
//     aggregators (e.g. in tests) never interfere.
package candles

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MuniebA/alpha-pulse/internal/model"
)

// DefaultInterval is the bucket width used when no interval is configured.
const DefaultInterval = time.Minute

// bucket is the mutable aggregation state for one symbol over one interval.
//
// Invariants, maintained by fold: low <= open <= high, low <= close <= high,
// and tradeCount >= 1. A bucket with zero trades is never created, so an
// empty interval simply produces no candle (gaps are real, never fabricated).
type bucket struct {
	symbol     string
	start      time.Time
	open       decimal.Decimal
	high       decimal.Decimal
	low        decimal.Decimal
	close      decimal.Decimal
	volume     decimal.Decimal
	tradeCount int64
}

// newBucket seeds a bucket from the first trade of an interval.
func newBucket(trade model.TradeEvent, start time.Time) *bucket {
	return &bucket{
		symbol:     trade.Symbol,
		start:      start,
		open:       trade.Price,
		high:       trade.Price,
		low:        trade.Price,
		close:      trade.Price,
		volume:     trade.Quantity,
		tradeCount: 1,
	}
}

// fold merges one more trade into an open bucket.
func (b *bucket) fold(trade model.TradeEvent) {
	if trade.Price.GreaterThan(b.high) {
		b.high = trade.Price
	}
	if trade.Price.LessThan(b.low) {
		b.low = trade.Price
	}
	b.close = trade.Price
	b.volume = b.volume.Add(trade.Quantity)
	b.tradeCount++
}

// freeze converts the bucket into its immutable candle form.
func (b *bucket) freeze() model.Candle {
	return model.Candle{
		Symbol:      b.symbol,
		BucketStart: b.start,
		Open:        b.open,
		High:        b.high,
		Low:         b.low,
		Close:       b.close,
		Volume:      b.volume,
		TradeCount:  b.tradeCount,
	}
}

// Aggregator folds trade events into per-symbol buckets and emits a finalized
// candle whenever a bucket rolls over.
//
// Symbols are fully isolated: a rollover for one symbol never reads or
// mutates another symbol's bucket. The per-symbol map is the only shared
// structure and it is owned by the calling goroutine.
type Aggregator struct {
	// interval defines the time width of each bucket.
	interval time.Duration

	// buckets holds the single live bucket per symbol. Entries are created
	// lazily on the first trade for a symbol and replaced on rollover.
	buckets map[string]*bucket

	// dropped counts late trades discarded because their interval had
	// already closed.
	dropped int64
}

// NewAggregator creates an aggregator with the given bucket interval.
// A non-positive interval falls back to DefaultInterval.
func NewAggregator(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		interval: interval,
		buckets:  make(map[string]*bucket),
	}
}

// Interval returns the configured bucket width.
func (agg *Aggregator) Interval() time.Duration {
	return agg.interval
}

// Update folds a single trade into the live bucket for its symbol.
//
// The returned candle is present (ok == true) exactly when the trade's
// truncated timestamp strictly exceeds the open bucket's start: the old
// bucket is frozen and handed to the caller, and a fresh bucket is seeded
// from the trade. The aggregator keeps no reference to the returned candle.
//
// A late trade whose truncated timestamp precedes the open bucket references
// an interval that has already closed; it is dropped from aggregation (the
// raw audit log still captures it upstream). This keeps candle emission per
// symbol strictly increasing by BucketStart.
//
// Update performs no I/O and never blocks.
func (agg *Aggregator) Update(trade model.TradeEvent) (model.Candle, bool) {
	start := trade.Time.UTC().Truncate(agg.interval)

	current, found := agg.buckets[trade.Symbol]
	if !found {
		agg.buckets[trade.Symbol] = newBucket(trade, start)
		return model.Candle{}, false
	}

	switch {
	case start.Equal(current.start):
		current.fold(trade)
		return model.Candle{}, false

	case start.After(current.start):
		closed := current.freeze()
		agg.buckets[trade.Symbol] = newBucket(trade, start)
		return closed, true

	default:
		// Trade for an already-closed interval. Deterministic policy: drop.
		agg.dropped++
		log.Debug().
			Str("symbol", trade.Symbol).
			Time("tradeTime", trade.Time).
			Time("openBucket", current.start).
			Msg("dropping late trade for closed interval")
		return model.Candle{}, false
	}
}

// Dropped reports how many late trades have been discarded so far.
func (agg *Aggregator) Dropped() int64 {
	return agg.dropped
}

// OpenBucket returns the finalized-shape snapshot of the live bucket for a
// symbol, if one exists. The engine itself never uses this on the write path;
// it exists for inspection and tests.
func (agg *Aggregator) OpenBucket(symbol string) (model.Candle, bool) {
	b, ok := agg.buckets[symbol]
	if !ok {
		return model.Candle{}, false
	}
	return b.freeze(), true
}
