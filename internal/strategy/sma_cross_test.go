package strategy

import (
	"testing"
	"time"
	"trading_engine/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(instrument string, close int64, end time.Time) core.Bar {
	c := decimal.NewFromInt(close)
	return core.Bar{
		Instrument:  instrument,
		Open:        c,
		High:        c,
		Low:         c,
		Close:       c,
		Volume:      decimal.NewFromInt(1),
		PeriodStart: end.Add(-time.Minute),
		PeriodEnd:   end,
	}
}

func feedCloses(s *SMACross, closes []int64) *core.Signal {
	base := time.Unix(0, 0)
	var last *core.Signal
	for i, c := range closes {
		last = s.OnBar(bar("BTC-USD", c, base.Add(time.Duration(i)*time.Minute)), core.InstrumentState{})
	}
	return last
}

func TestSMACrossEmitsNothingUntilWindowFull(t *testing.T) {
	s := NewSMACross("BTC-USD", 2, 4, decimal.NewFromInt(1))

	assert.Nil(t, feedCloses(s, []int64{10, 10, 10}))
}

func TestGoldenCrossEmitsBuy(t *testing.T) {
	s := NewSMACross("BTC-USD", 2, 4, decimal.NewFromInt(1))

	// Declining series primes short below long, then a sharp rally
	// pushes the short average through the long average.
	sig := feedCloses(s, []int64{20, 18, 16, 14, 12, 30})
	require.NotNil(t, sig)
	assert.Equal(t, core.SideBuy, sig.Side)
	assert.Equal(t, "BTC-USD", sig.Instrument)
	assert.Nil(t, sig.LimitPrice, "crossover signals are marketable")
}

func TestDeadCrossEmitsSell(t *testing.T) {
	s := NewSMACross("BTC-USD", 2, 4, decimal.NewFromInt(1))

	sig := feedCloses(s, []int64{10, 12, 14, 16, 18, 2})
	require.NotNil(t, sig)
	assert.Equal(t, core.SideSell, sig.Side)
}

func TestNoSignalWithoutCross(t *testing.T) {
	s := NewSMACross("BTC-USD", 2, 4, decimal.NewFromInt(1))

	// Monotonic rise: short stays above long, no new cross after priming
	sig := feedCloses(s, []int64{10, 11, 12, 13, 14, 15, 16})
	assert.Nil(t, sig)
}

func TestIgnoresOtherInstruments(t *testing.T) {
	s := NewSMACross("BTC-USD", 2, 4, decimal.NewFromInt(1))

	base := time.Unix(0, 0)
	for i := int64(0); i < 10; i++ {
		assert.Nil(t, s.OnBar(bar("ETH-USD", 10+i, base.Add(time.Duration(i)*time.Minute)), core.InstrumentState{}))
	}
}

func TestInvalidPeriodsPanic(t *testing.T) {
	assert.Panics(t, func() {
		NewSMACross("BTC-USD", 10, 5, decimal.NewFromInt(1))
	})
}

func TestQuoteImbalanceSignals(t *testing.T) {
	s := NewQuoteImbalance("BTC-USD", decimal.NewFromInt(3), decimal.NewFromInt(2))

	q := core.Quote{
		Instrument: "BTC-USD",
		Bid:        decimal.NewFromInt(99),
		Ask:        decimal.NewFromInt(101),
		BidSize:    decimal.NewFromInt(90),
		AskSize:    decimal.NewFromInt(10),
		Timestamp:  time.Now(),
	}
	sig := s.OnQuote(q, core.InstrumentState{})
	require.NotNil(t, sig)
	assert.Equal(t, core.SideBuy, sig.Side)
	require.NotNil(t, sig.LimitPrice)
	assert.True(t, sig.LimitPrice.Equal(decimal.NewFromInt(99)), "buy joins the bid")

	// Same imbalance again: no re-fire
	assert.Nil(t, s.OnQuote(q, core.InstrumentState{}))

	// Flip to ask-heavy: sell at the ask
	q.BidSize = decimal.NewFromInt(10)
	q.AskSize = decimal.NewFromInt(90)
	sig = s.OnQuote(q, core.InstrumentState{})
	require.NotNil(t, sig)
	assert.Equal(t, core.SideSell, sig.Side)
	assert.True(t, sig.LimitPrice.Equal(decimal.NewFromInt(101)))
}

func TestQuoteImbalanceBalancedBookRearms(t *testing.T) {
	s := NewQuoteImbalance("BTC-USD", decimal.NewFromInt(3), decimal.NewFromInt(2))

	heavy := core.Quote{
		Instrument: "BTC-USD",
		Bid:        decimal.NewFromInt(99),
		Ask:        decimal.NewFromInt(101),
		BidSize:    decimal.NewFromInt(90),
		AskSize:    decimal.NewFromInt(10),
	}
	require.NotNil(t, s.OnQuote(heavy, core.InstrumentState{}))

	balanced := heavy
	balanced.BidSize = decimal.NewFromInt(50)
	balanced.AskSize = decimal.NewFromInt(50)
	assert.Nil(t, s.OnQuote(balanced, core.InstrumentState{}))

	// Imbalance returns in the same direction after a balanced book
	require.NotNil(t, s.OnQuote(heavy, core.InstrumentState{}))
}
