// Package utils provides common validation helpers for trading symbols.
//
// The engine subscribes with symbols in the venue's raw form (e.g. "BTCUSDT"),
// so validation is structural: symbols must be non-empty alphanumeric strings
// within length and count limits, but no asset whitelist is enforced here.
package utils

import (
	"errors"
	"fmt"
)

// Error definitions for validation functions
var (
	ErrNoSymbols      = errors.New("zero symbols requested")
	ErrTooManySymbols = errors.New("too many symbols requested")
	ErrEmptySymbol    = errors.New("symbol cannot be empty")
)

// maxSymbolLength bounds a single symbol; the longest venue symbols in
// practice are well under this.
const maxSymbolLength = 20

// ValidateSymbol validates a single venue symbol.
//
// A valid symbol is 1 to 20 characters of ASCII letters and digits. Case is
// not checked: callers normalize to the venue's expected case when building
// the subscription.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}

	if len(symbol) > maxSymbolLength {
		return fmt.Errorf("symbol %q exceeds %d characters", symbol, maxSymbolLength)
	}

	for _, r := range symbol {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !isLetter && !isDigit {
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
		}
	}

	return nil
}

// ValidateSymbols validates a slice of venue symbols and enforces quantity
// limits.
//
// Two checks are performed:
//  1. Quantity: the list must be non-empty and within maxAllowed.
//  2. Format: every symbol must pass ValidateSymbol.
func ValidateSymbols(symbols []string, maxAllowed int) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}

	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d", ErrTooManySymbols, maxAllowed)
	}

	if len(symbols) > maxAllowed {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManySymbols, len(symbols), maxAllowed)
	}

	for i, s := range symbols {
		if err := ValidateSymbol(s); err != nil {
			return fmt.Errorf("invalid symbol at index %d: %w", i, err)
		}
	}

	return nil
}
