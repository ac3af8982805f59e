// Package stream owns the long-lived subscription to the upstream trade feed.
//
// The Manager wraps a venue connector in an infinite reconnect loop: it
// subscribes, hands every decoded trade to a synchronous callback in arrival
// order, and when the stream terminates it waits a fixed backoff and
// subscribes again. The loop only ends when the context is cancelled.
//
// There is no resumption protocol with the venue, so trades executed while
// the connection is down are simply lost. The engine accepts the resulting
// candle gaps rather than fabricating data.
package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MuniebA/alpha-pulse/internal/model"
)

// DefaultBackoff is the wait between reconnect attempts when none is
// configured.
const DefaultBackoff = 5 * time.Second

// Connector abstracts the venue-specific subscription mechanics.
//
// Each call establishes a fresh multiplexed subscription for the given
// symbols. The returned channel closes when the underlying connection dies,
// which is the Manager's signal to reconnect.
type Connector interface {
	SubscribeToTrades(ctx context.Context, symbols []string) (<-chan model.TradeEvent, error)
}

// EventFunc receives each decoded trade event. It is invoked synchronously
// from the consume loop, so per-symbol arrival order is preserved. The
// aggregator's rollover detection depends on that.
type EventFunc func(model.TradeEvent)

// Manager runs the reconnect loop around a Connector.
type Manager struct {
	connector Connector
	backoff   time.Duration
}

// NewManager creates a stream manager. A non-positive backoff falls back to
// DefaultBackoff.
func NewManager(connector Connector, backoff time.Duration) *Manager {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Manager{
		connector: connector,
		backoff:   backoff,
	}
}

// Run subscribes to the trade feed for the given symbols and delivers every
// event to onEvent until ctx is cancelled.
//
// Transport failures never escape this loop: a failed subscribe or a dropped
// connection is logged, the backoff elapses, and the Manager subscribes
// again. Run returns ctx.Err() once the context is cancelled, and that is
// its only return path.
func (m *Manager) Run(ctx context.Context, symbols []string, onEvent EventFunc) error {
	logger := log.With().
		Str("component", "stream").
		Strs("symbols", symbols).
		Logger()

	for {
		events, err := m.connector.SubscribeToTrades(ctx, symbols)
		if err != nil {
			logger.Error().Err(err).Dur("backoff", m.backoff).Msg("subscription failed, retrying")
		} else {
			logger.Info().Msg("trade stream connected")
			m.consume(ctx, events, onEvent)
			if ctx.Err() == nil {
				logger.Warn().Dur("backoff", m.backoff).Msg("trade stream disconnected, reconnecting")
			}
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("stream manager stopped")
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}
}

// consume drains the trade channel until it closes (disconnect) or the
// context is cancelled.
func (m *Manager) consume(ctx context.Context, events <-chan model.TradeEvent, onEvent EventFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-events:
			if !ok {
				return
			}
			onEvent(trade)
		}
	}
}
