// Package websocket provides the long-lived WebSocket client used to consume
// the upstream venue's trade streams.
//
// The client owns one connection. It does not reconnect by itself: when the
// read loop terminates it closes the outgoing trade channel, and the stream
// manager layered above decides when to dial again. That split keeps backoff
// policy out of the transport and makes disconnects observable as an ordinary
// channel close.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MuniebA/alpha-pulse/internal/model"
)

const (
	// defaultPingPeriod is the interval between keepalive pings.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout bounds WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit is the maximum size of an incoming message.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout bounds the WebSocket handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultBufferSize is the TradeChan capacity when none is configured.
	defaultBufferSize = 1000
)

// ErrClientShuttingDown indicates the client is in the process of shutting down.
var ErrClientShuttingDown = errors.New("client is shutting down")

// ErrCorruptStream marks a handler error as fatal to the connection: the
// stream envelope itself could not be decoded, so the transport is considered
// broken. The client drops the connection and the reconnect layer above
// replaces it.
var ErrCorruptStream = errors.New("corrupt stream envelope")

// Config defines settings for the WebSocket client.
type Config struct {
	// Endpoint is the WebSocket URL to connect to. Required.
	Endpoint string

	// Handler is called for each incoming message. It decodes the raw frame
	// and pushes zero or more trade events onto the supplied channel, honoring
	// ctx so a blocked send unwinds on shutdown. An error wrapping
	// ErrCorruptStream drops the connection; any other error marks the single
	// message as malformed, which is logged while the connection keeps
	// reading. Required.
	Handler func(ctx context.Context, raw []byte, out chan<- model.TradeEvent) error

	// BufferSize caps how many decoded events TradeChan may buffer before the
	// read loop blocks. Zero selects defaultBufferSize.
	BufferSize int

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between keepalive pings.
	PingPeriod time.Duration

	// SendTimeout bounds write operations.
	SendTimeout time.Duration

	// SubscriptionMessages are sent immediately after connecting.
	SubscriptionMessages [][]byte
}

// Client wraps a websocket.Conn with lifecycle and message handling logic.
//
// Trade events decoded by the Handler are delivered on TradeChan. The channel
// is closed when the connection terminates for any reason, which is the
// caller's disconnect signal.
type Client struct {
	conn atomic.Value // stores *websocket.Conn

	// TradeChan delivers decoded trade events to the consumer.
	TradeChan chan model.TradeEvent

	// disconnect is closed when the connection is lost.
	disconnect chan struct{}

	// errChan reports the terminal error that ended the connection.
	errChan chan error

	cfg    *Config
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWebsocketClient dials the endpoint, sends any subscription messages and
// starts the read and ping loops. The returned client is live immediately.
func NewWebsocketClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}

	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(ctx)

	client := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		TradeChan:  make(chan model.TradeEvent, cfg.BufferSize),
	}

	if err := client.run(cfg.SubscriptionMessages); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}

	return client, nil
}

// run establishes the connection, sends subscriptions and starts the
// background goroutines. Called once during construction.
func (c *Client) run(subMsgs [][]byte) error {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "websocket").
		Logger()

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	defer func() {
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
		}
	}()

	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(appData string) error {
		// Each pong extends the read deadline by two ping periods.
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	for _, msg := range subMsgs {
		if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error().Err(err).Msg("subscription error")
			return err
		}
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	// Not part of the waitgroup: it invokes Close itself, and Close waits on
	// the waitgroup.
	go c.shutdownListener()

	return nil
}

// readLoop reads frames until the connection dies and hands each one to the
// configured Handler. On exit it closes TradeChan and the disconnect channel.
func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "websocket.read").
		Logger()

	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect)
		close(c.TradeChan)

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}

		// The connection is over either way; stop the ping loop and let the
		// shutdown listener close the conn.
		c.cancel()
	}()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}

				select {
				case c.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			if err := c.handleFrame(data, logger); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				if errors.Is(err, ErrCorruptStream) {
					logger.Error().Err(err).Msg("corrupt stream, dropping connection")
					select {
					case c.errChan <- err:
					default:
					}
					return
				}
				// Any other handler error means one malformed message, not a
				// dead connection: log and keep reading.
				logger.Error().Err(err).Msg("discarding malformed message")
			}
		}
	}
}

// handleFrame runs the configured Handler over one frame. A panicking handler
// loses that frame only, never the connection.
func (c *Client) handleFrame(data []byte, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Any("recover", r).Msg("panic in message handler")
			err = nil
		}
	}()
	return c.cfg.Handler(c.ctx, data, c.TradeChan)
}

// pingLoop sends periodic pings so idle connections are not silently dropped.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "websocket.ping").
		Logger()

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)

			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := conn.SetWriteDeadline(deadline); err != nil {
				logger.Warn().Err(err).Msg("failed to set write deadline")
				continue
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// shutdownListener closes the client when the context is cancelled.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close gracefully shuts down the client. Safe to call multiple times.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().
			Str("endpoint", c.cfg.Endpoint).
			Str("component", "websocket").
			Logger()

		logger.Info().Msg("initiating shutdown")
		c.cancel()

		if conn := c.conn.Load(); conn != nil {
			if ws, ok := conn.(*websocket.Conn); ok {
				if err := ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				); err != nil {
					logger.Warn().Err(err).Msg("failed to send close frame")
				}

				if err := ws.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing websocket connection")
				}
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}

		logger.Info().Msg("shutdown complete")
	})
}

// dial establishes the WebSocket connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			log.Error().
				Err(err).
				Str("endpoint", c.cfg.Endpoint).
				Int("statusCode", resp.StatusCode).
				Msg("websocket connection failed")
		} else {
			log.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("websocket connection failed")
		}
		return nil, err
	}

	log.Info().Str("endpoint", c.cfg.Endpoint).Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan returns a channel closed when the connection is lost.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel carrying the terminal read error, if any.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
