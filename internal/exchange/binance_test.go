package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/websocket"
)

func newTestConnector(t *testing.T) *BinanceConnector {
	t.Helper()
	bc, err := NewBinanceConnector(nil)
	require.NoError(t, err)
	return bc
}

func Test_NewBinanceConnector(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		bc, err := NewBinanceConnector(nil)
		require.NoError(t, err)
		assert.Equal(t, defaultBinanceConfig.BaseURL, bc.config.BaseURL)
		assert.Equal(t, defaultBinanceConfig.MaxSymbols, bc.config.MaxSymbols)
	})

	t.Run("partial config is backfilled", func(t *testing.T) {
		bc, err := NewBinanceConnector(&ExchangeConfig{BaseURL: "wss://example.test"})
		require.NoError(t, err)
		assert.Equal(t, "wss://example.test", bc.config.BaseURL)
		assert.Equal(t, defaultBinanceConfig.MaxSymbols, bc.config.MaxSymbols)
	})
}

func Test_BuildStreamURL(t *testing.T) {
	bc := newTestConnector(t)

	tests := []struct {
		name    string
		symbols []string
		want    string
	}{
		{
			name:    "single symbol",
			symbols: []string{"BTCUSDT"},
			want:    "wss://stream.binance.com:9443/stream?streams=btcusdt@trade",
		},
		{
			name:    "multiple symbols share one multiplexed subscription",
			symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			want:    "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade/solusdt@trade",
		},
		{
			name:    "symbols are lowercased for the venue",
			symbols: []string{"XrpUsdt"},
			want:    "wss://stream.binance.com:9443/stream?streams=xrpusdt@trade",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bc.buildStreamURL(tt.symbols))
		})
	}
}

func Test_SubscribeToTrades_RejectsBadSymbols(t *testing.T) {
	bc := newTestConnector(t)
	ctx := context.Background()

	_, err := bc.SubscribeToTrades(ctx, nil)
	assert.Error(t, err)

	_, err = bc.SubscribeToTrades(ctx, []string{"BTC/USDT"})
	assert.Error(t, err)

	tooMany := make([]string, defaultBinanceConfig.MaxSymbols+1)
	for i := range tooMany {
		tooMany[i] = "BTCUSDT"
	}
	_, err = bc.SubscribeToTrades(ctx, tooMany)
	assert.Error(t, err)
}

func Test_HandleTradeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		fatal   bool // envelope-level failure that must drop the connection
	}{
		{
			name: "valid trade",
			raw:  `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"50000.12","q":"0.001","T":1717236005123}}`,
		},
		{
			name:    "invalid outer JSON",
			raw:     `{not json`,
			wantErr: true,
			fatal:   true,
		},
		{
			name:    "missing data payload",
			raw:     `{"stream":"btcusdt@trade"}`,
			wantErr: true,
			fatal:   true,
		},
		{
			name:    "invalid payload JSON",
			raw:     `{"stream":"btcusdt@trade","data":"nope"}`,
			wantErr: true,
			fatal:   true,
		},
		{
			name:    "missing price fails validation",
			raw:     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","q":"0.001","T":1717236005123}}`,
			wantErr: true,
		},
		{
			name:    "non-numeric price fails validation",
			raw:     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"fifty","q":"0.001","T":1717236005123}}`,
			wantErr: true,
		},
		{
			name:    "zero quantity rejected",
			raw:     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"50000","q":"0","T":1717236005123}}`,
			wantErr: true,
		},
		{
			name:    "negative price rejected",
			raw:     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"-1","q":"0.001","T":1717236005123}}`,
			wantErr: true,
		},
		{
			name:    "missing timestamp fails validation",
			raw:     `{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"50000","q":"0.001"}}`,
			wantErr: true,
		},
	}

	bc := newTestConnector(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tradeChan := make(chan model.TradeEvent, 1)
			err := bc.handleTradeMessage(context.Background(), []byte(tt.raw), tradeChan)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, tradeChan, "malformed messages must not emit events")
				assert.Equal(t, tt.fatal, errors.Is(err, websocket.ErrCorruptStream),
					"envelope failures drop the connection, field failures drop the message")
				return
			}

			require.NoError(t, err)
			require.Len(t, tradeChan, 1)
			ev := <-tradeChan
			assert.Equal(t, "BTCUSDT", ev.Symbol)
			assert.Equal(t, "50000.12", ev.Price.String())
			assert.Equal(t, "0.001", ev.Quantity.String())
			assert.Equal(t, time.UnixMilli(1717236005123).UTC(), ev.Time)
			assert.Equal(t, time.UTC, ev.Time.Location(), "event time must be UTC")
		})
	}
}

// Test_HandleTradeMessage_LowercaseSymbolNormalized checks the venue symbol
// is uppercased on the way in so bucket keys are consistent.
func Test_HandleTradeMessage_LowercaseSymbolNormalized(t *testing.T) {
	bc := newTestConnector(t)
	tradeChan := make(chan model.TradeEvent, 1)

	raw := `{"stream":"btcusdt@trade","data":{"s":"btcusdt","p":"50000","q":"1","T":1717236005123}}`
	require.NoError(t, bc.handleTradeMessage(context.Background(), []byte(raw), tradeChan))

	ev := <-tradeChan
	assert.Equal(t, "BTCUSDT", ev.Symbol)
}

// Test_SubscribeToTrades_CorruptEnvelopeDropsConnection feeds garbage through
// a live subscription: the event channel must close, which is the reconnect
// signal the stream manager backs off on.
func Test_SubscribeToTrades_CorruptEnvelopeDropsConnection(t *testing.T) {
	upgrader := gws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(gws.TextMessage, []byte(`{"not":"an envelope"`))
	}))
	defer server.Close()

	bc, err := NewBinanceConnector(&ExchangeConfig{
		BaseURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	})
	require.NoError(t, err)

	events, err := bc.SubscribeToTrades(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)

	select {
	case _, ok := <-events:
		assert.False(t, ok, "corrupt envelope must close the event channel")
	case <-time.After(2 * time.Second):
		t.Fatal("event channel stayed open after a corrupt envelope")
	}
}
