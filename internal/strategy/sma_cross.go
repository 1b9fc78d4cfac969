package strategy

import (
	"trading_engine/internal/core"

	"github.com/shopspring/decimal"
)

// SMACross is a simple moving-average crossover strategy over completed
// bars. It emits a buy when the short average crosses above the long
// average and a sell on the opposite cross. Stateful and deterministic.
type SMACross struct {
	name        string
	instrument  string
	shortPeriod int
	longPeriod  int
	quantity    decimal.Decimal

	closes []decimal.Decimal

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	primed    bool
}

// NewSMACross creates an SMA crossover unit. shortPeriod must be less
// than longPeriod.
func NewSMACross(instrument string, shortPeriod, longPeriod int, quantity decimal.Decimal) *SMACross {
	if shortPeriod >= longPeriod {
		panic("strategy: shortPeriod must be less than longPeriod")
	}
	return &SMACross{
		name:        "sma_cross",
		instrument:  instrument,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		quantity:    quantity,
	}
}

// Name returns the unit name
func (s *SMACross) Name() string { return s.name }

// OnBar updates the moving averages and emits a signal on a cross
func (s *SMACross) OnBar(bar core.Bar, _ core.InstrumentState) *core.Signal {
	if bar.Instrument != s.instrument {
		return nil
	}

	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.longPeriod {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.longPeriod {
		return nil
	}

	currShort := average(s.closes[len(s.closes)-s.shortPeriod:])
	currLong := average(s.closes)

	var sig *core.Signal
	if s.primed {
		// Golden cross: short moves above long
		if s.prevShort.LessThanOrEqual(s.prevLong) && currShort.GreaterThan(currLong) {
			sig = &core.Signal{Instrument: s.instrument, Side: core.SideBuy, Quantity: s.quantity}
		}
		// Dead cross: short moves below long
		if s.prevShort.GreaterThanOrEqual(s.prevLong) && currShort.LessThan(currLong) {
			sig = &core.Signal{Instrument: s.instrument, Side: core.SideSell, Quantity: s.quantity}
		}
	}

	s.prevShort = currShort
	s.prevLong = currLong
	s.primed = true
	return sig
}

func average(vals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals))))
}
