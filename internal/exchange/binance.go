package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MuniebA/alpha-pulse/internal/model"
	"github.com/MuniebA/alpha-pulse/internal/utils"
	"github.com/MuniebA/alpha-pulse/internal/websocket"
)

// defaultBinanceConfig provides sensible defaults for Binance connections.
var defaultBinanceConfig = ExchangeConfig{
	BaseURL:    "wss://stream.binance.com:9443",
	MaxSymbols: 16,
}

// BinanceConnector subscribes to Binance combined trade streams and converts
// raw messages into TradeEvent values.
//
// One connector call produces one multiplexed subscription covering all
// requested symbols; there is never a connection per symbol.
type BinanceConnector struct {
	config   ExchangeConfig
	validate *validator.Validate
}

// msg is the outer wrapper of a Binance combined-stream message.
//
// Binance nests the trade payload inside a stream identifier:
//
//	{
//		"stream": "btcusdt@trade",
//		"data": {
//			"s": "BTCUSDT",
//			"p": "50000.12",
//			"q": "0.001",
//			"T": 1634567890123
//		}
//	}
type msg struct {
	Stream string          `json:"stream" validate:"required"` // Stream identifier (e.g. "btcusdt@trade")
	Data   json.RawMessage `json:"data" validate:"required"`   // Raw trade payload
}

// trade is the inner trade payload. Numeric fields arrive as strings to
// preserve precision; validation rejects anything unparseable before the
// event enters the engine.
type trade struct {
	Symbol   string `json:"s" validate:"required"`         // Venue symbol (e.g. "BTCUSDT")
	Price    string `json:"p" validate:"required,numeric"` // Execution price as string
	Quantity string `json:"q" validate:"required,numeric"` // Quantity as string
	Time     int64  `json:"T" validate:"required,gt=0"`    // Trade time, Unix milliseconds
}

// NewBinanceConnector creates a Binance connector. A nil config selects the
// defaults.
func NewBinanceConnector(cfg *ExchangeConfig) (*BinanceConnector, error) {
	if cfg == nil {
		cfg = &defaultBinanceConfig
	}

	if err := validateConfig(cfg, &defaultBinanceConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &BinanceConnector{
		config:   *cfg,
		validate: validator.New(),
	}, nil
}

// SubscribeToTrades opens one multiplexed WebSocket subscription covering all
// requested symbols and returns the channel of decoded trade events.
//
// The channel closes when the underlying connection terminates; the stream
// manager treats that as a disconnect and re-subscribes after backoff.
func (bc *BinanceConnector) SubscribeToTrades(ctx context.Context, symbols []string) (<-chan model.TradeEvent, error) {
	if err := utils.ValidateSymbols(symbols, bc.config.MaxSymbols); err != nil {
		return nil, err
	}

	streamURL := bc.buildStreamURL(symbols)

	client, err := websocket.NewWebsocketClient(ctx, websocket.Config{
		Endpoint: streamURL,
		Handler:  bc.handleTradeMessage,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create Binance WebSocket client")
		return nil, err
	}

	return client.TradeChan, nil
}

// buildStreamURL constructs the combined-stream URL, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade
func (bc *BinanceConnector) buildStreamURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@trade", strings.ToLower(s)))
	}
	return fmt.Sprintf("%s/stream?streams=%s", bc.config.BaseURL, strings.Join(streams, "/"))
}

// handleTradeMessage decodes one raw combined-stream message into a
// TradeEvent.
//
// Errors come in two classes. A failure to decode the envelope structure
// itself wraps websocket.ErrCorruptStream: the transport is compromised and
// the client drops the connection so the stream manager can reconnect. A
// trade inside a valid envelope that fails field validation is merely
// malformed; the websocket client logs it and keeps the connection alive.
func (bc *BinanceConnector) handleTradeMessage(ctx context.Context, raw []byte, tradeChan chan<- model.TradeEvent) error {
	var m msg
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: %v", websocket.ErrCorruptStream, err)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: missing data payload", websocket.ErrCorruptStream)
	}

	var t trade
	if err := json.Unmarshal(m.Data, &t); err != nil {
		return fmt.Errorf("%w: invalid trade payload: %v", websocket.ErrCorruptStream, err)
	}

	if err := bc.validate.Struct(&t); err != nil {
		log.Warn().Err(err).Interface("trade", t).Msg("trade validation failed")
		return err
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return fmt.Errorf("invalid trade price %q: %w", t.Price, err)
	}

	quantity, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return fmt.Errorf("invalid trade quantity %q: %w", t.Quantity, err)
	}

	if !price.IsPositive() || !quantity.IsPositive() {
		return fmt.Errorf("non-positive price or quantity in trade for %s", t.Symbol)
	}

	ev := model.TradeEvent{
		Symbol:   strings.ToUpper(t.Symbol),
		Price:    price,
		Quantity: quantity,
		Time:     time.UnixMilli(t.Time).UTC(),
	}

	// The consumer may be gone while the buffer is full; ctx unblocks the
	// send on shutdown.
	select {
	case tradeChan <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
