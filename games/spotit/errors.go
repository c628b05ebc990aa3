package spotit

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSymbols matches any *InsufficientSymbolsError.
	ErrInsufficientSymbols = errors.New("insufficient symbols")

	// ErrInsufficientCards is returned by TwoCards when the deck holds
	// fewer than two cards.
	ErrInsufficientCards = errors.New("need at least 2 cards")
)

// InsufficientSymbolsError reports a symbol universe smaller than the card size.
type InsufficientSymbolsError struct {
	Required int
	Actual   int
}

func (e *InsufficientSymbolsError) Error() string {
	return fmt.Sprintf("need at least %d symbols, got %d", e.Required, e.Actual)
}

func (e *InsufficientSymbolsError) Is(target error) bool {
	return target == ErrInsufficientSymbols
}
