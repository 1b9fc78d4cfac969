package strategy

import (
	"trading_engine/internal/core"

	"github.com/shopspring/decimal"
)

// QuoteImbalance emits a signal when the book is heavily one-sided: a
// bid size more than ratio times the ask size suggests near-term upward
// pressure, and vice versa. It places a limit at the passive side of the
// quote.
type QuoteImbalance struct {
	name       string
	instrument string
	ratio      decimal.Decimal
	quantity   decimal.Decimal

	lastSide  core.Side
	hasSignal bool
}

// NewQuoteImbalance creates a quote imbalance unit. ratio must be > 1.
func NewQuoteImbalance(instrument string, ratio, quantity decimal.Decimal) *QuoteImbalance {
	if ratio.LessThanOrEqual(decimal.NewFromInt(1)) {
		panic("strategy: imbalance ratio must be > 1")
	}
	return &QuoteImbalance{
		name:       "quote_imbalance",
		instrument: instrument,
		ratio:      ratio,
		quantity:   quantity,
	}
}

// Name returns the unit name
func (s *QuoteImbalance) Name() string { return s.name }

// OnQuote inspects bid/ask size imbalance and emits at most one signal
// per direction change.
func (s *QuoteImbalance) OnQuote(q core.Quote, _ core.InstrumentState) *core.Signal {
	if q.Instrument != s.instrument {
		return nil
	}
	if q.BidSize.IsZero() || q.AskSize.IsZero() {
		return nil
	}

	var side core.Side
	var limit decimal.Decimal
	switch {
	case q.BidSize.GreaterThanOrEqual(q.AskSize.Mul(s.ratio)):
		side = core.SideBuy
		limit = q.Bid
	case q.AskSize.GreaterThanOrEqual(q.BidSize.Mul(s.ratio)):
		side = core.SideSell
		limit = q.Ask
	default:
		s.hasSignal = false
		return nil
	}

	// Re-arm only when the imbalance flips direction
	if s.hasSignal && s.lastSide == side {
		return nil
	}
	s.hasSignal = true
	s.lastSide = side

	px := limit
	return &core.Signal{
		Instrument: s.instrument,
		Side:       side,
		Quantity:   s.quantity,
		LimitPrice: &px,
	}
}
