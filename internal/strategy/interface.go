// Package strategy hosts pluggable decision units and dispatches
// normalized market events to them.
package strategy

import (
	"trading_engine/internal/core"
)

// Strategy is the base interface every decision unit implements.
// Capabilities are declared by additionally implementing TradeHandler,
// QuoteHandler and/or BarHandler; the host detects them by type
// assertion.
type Strategy interface {
	Name() string
}

// TradeHandler receives trades plus a read-only market snapshot and
// returns zero-or-one signal.
type TradeHandler interface {
	OnTrade(trade core.Trade, snapshot core.InstrumentState) *core.Signal
}

// QuoteHandler receives best bid/ask updates
type QuoteHandler interface {
	OnQuote(quote core.Quote, snapshot core.InstrumentState) *core.Signal
}

// BarHandler receives completed bars
type BarHandler interface {
	OnBar(bar core.Bar, snapshot core.InstrumentState) *core.Signal
}
