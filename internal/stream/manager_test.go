package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuniebA/alpha-pulse/internal/model"
)

// scriptedConnector returns a fresh channel per subscribe call so tests can
// simulate connect / disconnect cycles.
type scriptedConnector struct {
	mu         sync.Mutex
	subscribes int
	script     []func() (<-chan model.TradeEvent, error)
}

func (c *scriptedConnector) SubscribeToTrades(ctx context.Context, symbols []string) (<-chan model.TradeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.subscribes
	c.subscribes++
	if idx >= len(c.script) {
		// Out of script: park on an open channel that never delivers.
		return make(chan model.TradeEvent), nil
	}
	return c.script[idx]()
}

func (c *scriptedConnector) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

func testTrade(symbol string, price int64) model.TradeEvent {
	return model.TradeEvent{
		Symbol:   symbol,
		Price:    decimal.NewFromInt(price),
		Quantity: decimal.NewFromInt(1),
		Time:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

// Test_Run_DeliversEventsInOrder verifies the synchronous callback sees
// events in arrival order.
func Test_Run_DeliversEventsInOrder(t *testing.T) {
	feed := make(chan model.TradeEvent, 10)
	for i := int64(1); i <= 5; i++ {
		feed <- testTrade("BTCUSDT", i)
	}

	conn := &scriptedConnector{script: []func() (<-chan model.TradeEvent, error){
		func() (<-chan model.TradeEvent, error) { return feed, nil },
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewManager(conn, time.Millisecond).Run(ctx, []string{"BTCUSDT"}, func(ev model.TradeEvent) {
			got = append(got, ev.Price.IntPart())
			if len(got) == 5 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop after cancellation")
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got, "events must arrive in order")
}

// Test_Run_ReconnectsAfterDisconnect closes the first feed channel to
// simulate a dropped connection and expects a second subscription carrying
// the remaining events.
func Test_Run_ReconnectsAfterDisconnect(t *testing.T) {
	first := make(chan model.TradeEvent, 2)
	first <- testTrade("BTCUSDT", 1)
	close(first) // connection drop after one event

	second := make(chan model.TradeEvent, 2)
	second <- testTrade("BTCUSDT", 2)

	conn := &scriptedConnector{script: []func() (<-chan model.TradeEvent, error){
		func() (<-chan model.TradeEvent, error) { return first, nil },
		func() (<-chan model.TradeEvent, error) { return second, nil },
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewManager(conn, 5*time.Millisecond).Run(ctx, []string{"BTCUSDT"}, func(ev model.TradeEvent) {
			got = append(got, ev.Price.IntPart())
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not reconnect and stop")
	}

	assert.Equal(t, []int64{1, 2}, got)
	assert.GreaterOrEqual(t, conn.subscribeCount(), 2, "should have re-subscribed after disconnect")
}

// Test_Run_RetriesFailedSubscribe treats a subscribe error as transient.
func Test_Run_RetriesFailedSubscribe(t *testing.T) {
	feed := make(chan model.TradeEvent, 1)
	feed <- testTrade("BTCUSDT", 7)

	conn := &scriptedConnector{script: []func() (<-chan model.TradeEvent, error){
		func() (<-chan model.TradeEvent, error) { return nil, errors.New("venue unavailable") },
		func() (<-chan model.TradeEvent, error) { return feed, nil },
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan model.TradeEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewManager(conn, 5*time.Millisecond).Run(ctx, []string{"BTCUSDT"}, func(ev model.TradeEvent) {
			received <- ev
			cancel()
		})
	}()

	select {
	case ev := <-received:
		assert.Equal(t, int64(7), ev.Price.IntPart())
	case <-time.After(2 * time.Second):
		t.Fatal("manager never recovered from failed subscribe")
	}

	<-done
	assert.GreaterOrEqual(t, conn.subscribeCount(), 2)
}

// Test_Run_CancellationDuringBackoff checks the stop signal is honored while
// waiting out the backoff rather than after it.
func Test_Run_CancellationDuringBackoff(t *testing.T) {
	conn := &scriptedConnector{script: []func() (<-chan model.TradeEvent, error){
		func() (<-chan model.TradeEvent, error) { return nil, errors.New("venue unavailable") },
	}}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		// Backoff far longer than the test timeout; cancellation must win.
		errCh <- NewManager(conn, time.Hour).Run(ctx, []string{"BTCUSDT"}, func(model.TradeEvent) {})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not exit during backoff")
	}
}

func Test_NewManager_DefaultBackoff(t *testing.T) {
	m := NewManager(&scriptedConnector{}, 0)
	assert.Equal(t, DefaultBackoff, m.backoff)

	m = NewManager(&scriptedConnector{}, -time.Second)
	assert.Equal(t, DefaultBackoff, m.backoff)
}
