// Package exchange provides the upstream venue connector for real-time trade
// data.
//
// A connector owns the venue-specific wire details: stream URL construction,
// message envelope decoding, payload validation and conversion into the
// engine's TradeEvent type. Everything above this package is venue-agnostic.
package exchange

import (
	"errors"
)

// ErrInvalidConfig indicates that the provided ExchangeConfig contains
// invalid values.
var ErrInvalidConfig = errors.New("invalid configuration")

// ExchangeConfig provides common configuration parameters for venue
// connectors.
type ExchangeConfig struct {
	// BaseURL is the WebSocket endpoint URL for the venue API.
	BaseURL string

	// MaxSymbols caps how many symbols a single multiplexed subscription may
	// carry.
	MaxSymbols int
}

// validateConfig fills optional fields from defaults and rejects anything
// still invalid.
func validateConfig(cfg *ExchangeConfig, defaultCfg *ExchangeConfig) error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCfg.BaseURL
	}

	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = defaultCfg.MaxSymbols
	}

	return nil
}
