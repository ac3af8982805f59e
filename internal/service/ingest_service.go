// Package service wires the ingestion pipeline together: the stream manager
// feeds trades through the aggregator, finalized candles go to the durable
// sink, raw ticks go to the audit recorder, and observers hear about each
// emitted candle via the dispatcher.
//
// Failure isolation is the point of this layer. An audit write failure is
// logged and swallowed; a candle persist failure is logged and that one
// candle is abandoned (at-most-once durability, no retry queue); neither
// stops the ingestion loop. Only context cancellation ends the service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/stream"
	"github.com/MuniebA/alpha-pulse/internal/utils"
)

// maxSymbolsAllowed caps a single engine's subscription size.
const maxSymbolsAllowed = 100

// StreamRunner abstracts the reconnecting trade feed.
type StreamRunner interface {
	// Run delivers trade events to onEvent in arrival order until ctx is
	// cancelled. Transport failures are handled internally.
	Run(ctx context.Context, symbols []string, onEvent stream.EventFunc) error
}

// TradeAggregator folds trades into buckets and emits finalized candles.
type TradeAggregator interface {
	// Update folds one trade; ok reports whether a candle was emitted.
	Update(trade model.TradeEvent) (candle model.Candle, ok bool)
}

// CandleSink persists finalized candles exactly once per
// (symbol, bucket start) key.
type CandleSink interface {
	// Persist writes a candle idempotently; duplicate keys succeed as no-ops.
	Persist(ctx context.Context, candle model.Candle) error
}

// TickRecorder is the best-effort raw trade audit log.
type TickRecorder interface {
	// Record appends one raw trade event.
	Record(ctx context.Context, trade model.TradeEvent) error
}

// CandlePublisher fans finalized candles out to in-process observers.
type CandlePublisher interface {
	// Publish hands a finalized candle to subscribers without blocking.
	Publish(candle model.Candle)
}

// IngestService orchestrates the tick-to-candle pipeline.
//
// All per-trade work runs on the single goroutine driving the stream
// manager's callback, so the aggregator needs no locking and per-symbol
// ordering holds end to end.
type IngestService struct {
	streamManager StreamRunner
	aggregator    TradeAggregator
	sink          CandleSink
	recorder      TickRecorder
	publisher     CandlePublisher

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewIngestService creates the service. publisher may be nil when no
// in-process observers are wanted; the other collaborators are required.
func NewIngestService(manager StreamRunner, aggregator TradeAggregator, sink CandleSink, recorder TickRecorder, publisher CandlePublisher) *IngestService {
	return &IngestService{
		streamManager: manager,
		aggregator:    aggregator,
		sink:          sink,
		recorder:      recorder,
		publisher:     publisher,
	}
}

// Start validates the symbol set and launches the ingestion loop. It returns
// once the loop is running; Stop (or cancelling ctx) shuts it down.
func (is *IngestService) Start(ctx context.Context, symbols []string) error {
	if !is.started.CompareAndSwap(false, true) {
		return errors.New("ingest service has already started")
	}

	if err := utils.ValidateSymbols(symbols, maxSymbolsAllowed); err != nil {
		is.started.Store(false)
		return fmt.Errorf("invalid symbol set: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	is.cancel = cancel
	is.done = make(chan struct{})

	go func() {
		defer close(is.done)
		err := is.streamManager.Run(ctx, symbols, func(trade model.TradeEvent) {
			is.handleTrade(ctx, trade)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("ingestion loop terminated")
		}
	}()

	log.Info().Strs("symbols", symbols).Msg("ingest service started")
	return nil
}

// Stop cancels the ingestion loop and waits for it to drain.
func (is *IngestService) Stop() error {
	if !is.started.CompareAndSwap(true, false) {
		return errors.New("service not started")
	}

	if is.cancel != nil {
		is.cancel()
		is.cancel = nil
	}
	if is.done != nil {
		<-is.done
	}

	log.Info().Msg("ingest service stopped")
	return nil
}

// handleTrade is the per-event pipeline: audit, aggregate, persist, publish.
func (is *IngestService) handleTrade(ctx context.Context, trade model.TradeEvent) {
	// Audit first so late or malformed-but-decodable trades are captured
	// even when aggregation drops them. Strictly best-effort.
	if err := is.recorder.Record(ctx, trade); err != nil {
		log.Warn().Err(err).Str("symbol", trade.Symbol).Msg("failed to record raw tick")
	}

	candle, ok := is.aggregator.Update(trade)
	if !ok {
		return
	}

	if err := is.sink.Persist(ctx, candle); err != nil {
		// At-most-once: the candle is abandoned, the loop is not.
		log.Error().
			Err(err).
			Str("symbol", candle.Symbol).
			Time("bucket", candle.BucketStart).
			Msg("failed to persist candle, dropping it")
	} else {
		log.Info().
			Str("symbol", candle.Symbol).
			Time("bucket", candle.BucketStart).
			Str("close", candle.Close.String()).
			Int64("trades", candle.TradeCount).
			Msg("candle saved")
	}

	if is.publisher != nil {
		is.publisher.Publish(candle)
	}
}
