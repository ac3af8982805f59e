package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/utils"
)

// Subscriber represents one in-process observer of finalized candles.
//
// Each subscriber has its own buffered channel and a symbol filter; slow
// subscribers lose their oldest buffered candle rather than stalling the
// pipeline.
type Subscriber struct {
	id                int64
	ch                chan model.Candle
	symbolsSubscribed map[string]struct{}
}

// C returns the subscriber's candle channel. It is closed on unsubscribe or
// dispatcher shutdown.
func (s *Subscriber) C() <-chan model.Candle {
	return s.ch
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxSymbolsAllowed int // Maximum symbols per subscription
}

// Dispatcher fans finalized candles out to subscribers.
//
// It follows the actor model: a single goroutine owns the subscribers map and
// processes subscription, unsubscription and publish requests from channels,
// so no mutex is needed and publishers never observe partial state.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers      map[int64]*Subscriber // owned by the dispatch goroutine
	subscriptionCh   chan *Subscriber
	unsubscriptionCh chan *Subscriber
	publishCh        chan model.Candle
	started          atomic.Bool
	randIDGen        *rand.Rand
}

// NewDispatcher creates a Dispatcher with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:              cfg,
		subscribers:      make(map[int64]*Subscriber),
		subscriptionCh:   make(chan *Subscriber, 10),
		unsubscriptionCh: make(chan *Subscriber, 10),
		publishCh:        make(chan model.Candle, 1000),
		randIDGen:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers an observer for the given symbols.
func (d *Dispatcher) Subscribe(symbols []string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if err := utils.ValidateSymbols(symbols, d.cfg.MaxSymbolsAllowed); err != nil {
		return nil, err
	}

	symSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symSet[s] = struct{}{}
	}

	sub := &Subscriber{
		id:                d.randIDGen.Int63(),
		ch:                make(chan model.Candle, 100),
		symbolsSubscribed: symSet,
	}

	select {
	case d.subscriptionCh <- sub:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}

	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case d.unsubscriptionCh <- sub:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

// Publish hands a finalized candle to the dispatch goroutine without
// blocking the ingestion loop. If the dispatcher's inbox is full the candle
// is dropped for observers (the durable sink has already seen it).
func (d *Dispatcher) Publish(candle model.Candle) {
	if !d.started.Load() {
		return
	}

	select {
	case d.publishCh <- candle:
	default:
		log.Warn().Str("symbol", candle.Symbol).Msg("dispatcher inbox full, dropping candle for observers")
	}
}

// Start launches the dispatch goroutine. It runs until ctx is cancelled, at
// which point all subscriber channels are closed.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range d.subscribers {
				close(sub.ch)
			}
			d.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-d.subscriptionCh:
				d.subscribers[sub.id] = sub
			case sub := <-d.unsubscriptionCh:
				d.remove(sub)
			case candle := <-d.publishCh:
				d.dispatch(candle)
			}
		}
	}()
	return nil
}

// remove deletes a subscriber and closes its channel. Dispatch goroutine only.
func (d *Dispatcher) remove(sub *Subscriber) {
	if _, ok := d.subscribers[sub.id]; ok {
		delete(d.subscribers, sub.id)
		close(sub.ch)
	}
}

// dispatch delivers a candle to every subscriber interested in its symbol.
// Dispatch goroutine only. A full subscriber buffer drops its oldest candle
// so the newest one always lands.
func (d *Dispatcher) dispatch(candle model.Candle) {
	for _, sub := range d.subscribers {
		if _, ok := sub.symbolsSubscribed[candle.Symbol]; !ok {
			continue
		}
		select {
		case sub.ch <- candle:
		default:
			log.Info().Int64("subscriber", sub.id).Msg("subscriber too slow, dropping oldest buffered candle")
			// The subscriber may drain concurrently, so both the eviction
			// and the retry must stay non-blocking.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- candle:
			default:
			}
		}
	}
}
