package risk

import (
	"errors"
	"testing"
	"time"
	"trading_engine/internal/core"
	"trading_engine/internal/mock"
	apperrors "trading_engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// stubStore serves fixed last-trade marks
type stubStore struct {
	marks map[string]decimal.Decimal
}

func (s *stubStore) Snapshot(instrument string) (core.InstrumentState, bool) {
	mark, ok := s.marks[instrument]
	if !ok {
		return core.InstrumentState{Instrument: instrument}, false
	}
	return core.InstrumentState{
		Instrument: instrument,
		LastTrade:  &core.Trade{Instrument: instrument, Price: mark, Timestamp: time.Now()},
	}, true
}

func (s *stubStore) Instruments() []string {
	out := make([]string, 0, len(s.marks))
	for k := range s.marks {
		out = append(out, k)
	}
	return out
}

func snapshotWith(positions map[string]core.Position, realized decimal.Decimal) core.PositionSnapshot {
	return core.PositionSnapshot{Positions: positions, RealizedTotal: realized, TakenAt: time.Now()}
}

func emptySnapshot() core.PositionSnapshot {
	return snapshotWith(map[string]core.Position{}, decimal.Zero)
}

func buy(instrument, qty string) core.Signal {
	return core.Signal{Instrument: instrument, Side: core.SideBuy, Quantity: d(qty)}
}

func sell(instrument, qty string) core.Signal {
	return core.Signal{Instrument: instrument, Side: core.SideSell, Quantity: d(qty)}
}

func TestPositionLimitRejectsOversizedOrder(t *testing.T) {
	limits := core.RiskLimits{DefaultMaxPosition: d("50")}
	g := NewGate(limits, nil, mock.NewLogger())

	err := g.Validate(buy("BTC-USD", "100"), emptySnapshot())
	require.Error(t, err)

	var v *Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, RulePositionLimit, v.Rule)

	assert.NoError(t, g.Validate(buy("BTC-USD", "50"), emptySnapshot()))
}

func TestPositionLimitUsesResultingPosition(t *testing.T) {
	limits := core.RiskLimits{DefaultMaxPosition: d("50")}
	g := NewGate(limits, nil, mock.NewLogger())

	long40 := snapshotWith(map[string]core.Position{
		"BTC-USD": {Instrument: "BTC-USD", Quantity: d("40"), AvgEntryPrice: d("100")},
	}, decimal.Zero)

	// 40 + 20 = 60 > 50
	assert.Error(t, g.Validate(buy("BTC-USD", "20"), long40))
	// Reducing is fine: 40 - 20 = 20
	assert.NoError(t, g.Validate(sell("BTC-USD", "20"), long40))
	// Flipping past the limit on the short side is not: 40 - 100 = -60
	assert.Error(t, g.Validate(sell("BTC-USD", "100"), long40))
}

func TestPerInstrumentLimitOverridesDefault(t *testing.T) {
	limits := core.RiskLimits{
		MaxPositionSize:    map[string]decimal.Decimal{"BTC-USD": d("5")},
		DefaultMaxPosition: d("100"),
	}
	g := NewGate(limits, nil, mock.NewLogger())

	assert.Error(t, g.Validate(buy("BTC-USD", "10"), emptySnapshot()))
	assert.NoError(t, g.Validate(buy("ETH-USD", "10"), emptySnapshot()))
}

func TestPortfolioNotionalLimit(t *testing.T) {
	limits := core.RiskLimits{
		DefaultMaxPosition:   d("1000"),
		MaxPortfolioNotional: d("10000"),
	}
	marks := &stubStore{marks: map[string]decimal.Decimal{
		"BTC-USD": d("100"),
		"ETH-USD": d("10"),
	}}
	g := NewGate(limits, marks, mock.NewLogger())

	holding := snapshotWith(map[string]core.Position{
		"ETH-USD": {Instrument: "ETH-USD", Quantity: d("500"), AvgEntryPrice: d("10")},
	}, decimal.Zero)

	// 500*10 = 5000 held; adding 60*100 = 6000 breaches 10000
	err := g.Validate(buy("BTC-USD", "60"), holding)
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, RulePortfolioNotional, v.Rule)

	// 40*100 = 4000 fits
	assert.NoError(t, g.Validate(buy("BTC-USD", "40"), holding))
}

func TestChecksShortCircuitInOrder(t *testing.T) {
	// Both position and notional would fail; position limit is reported
	limits := core.RiskLimits{
		DefaultMaxPosition:   d("1"),
		MaxPortfolioNotional: d("1"),
	}
	marks := &stubStore{marks: map[string]decimal.Decimal{"BTC-USD": d("100")}}
	g := NewGate(limits, marks, mock.NewLogger())

	err := g.Validate(buy("BTC-USD", "10"), emptySnapshot())
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, RulePositionLimit, v.Rule)
}

func TestDailyLossLatch(t *testing.T) {
	limits := core.RiskLimits{
		DefaultMaxPosition: d("1000"),
		DailyLossLimit:     d("500"),
	}
	g := NewGate(limits, nil, mock.NewLogger())

	losing := snapshotWith(map[string]core.Position{}, d("-600"))
	err := g.Validate(buy("BTC-USD", "1"), losing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDailyLossLimitBreached))
	assert.True(t, g.Latched())

	// Latched: even a recovered book is rejected
	recovered := snapshotWith(map[string]core.Position{}, d("100"))
	err = g.Validate(buy("BTC-USD", "1"), recovered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDailyLossLimitBreached))

	// Only an operator reset clears it
	g.Reset()
	assert.False(t, g.Latched())
	assert.NoError(t, g.Validate(buy("BTC-USD", "1"), recovered))
}

func TestUnrealizedLossCountsTowardDailyLimit(t *testing.T) {
	limits := core.RiskLimits{
		DefaultMaxPosition: d("1000"),
		DailyLossLimit:     d("500"),
	}
	marks := &stubStore{marks: map[string]decimal.Decimal{"BTC-USD": d("40")}}
	g := NewGate(limits, marks, mock.NewLogger())

	// Long 10 from 100, marked at 40: unrealized -600
	underwater := snapshotWith(map[string]core.Position{
		"BTC-USD": {Instrument: "BTC-USD", Quantity: d("10"), AvgEntryPrice: d("100")},
	}, decimal.Zero)

	err := g.Validate(buy("ETH-USD", "1"), underwater)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDailyLossLimitBreached))
	assert.True(t, g.Latched())
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	g := NewGate(core.RiskLimits{}, nil, mock.NewLogger())

	losing := snapshotWith(map[string]core.Position{}, d("-1000000"))
	assert.NoError(t, g.Validate(buy("BTC-USD", "1000000"), losing))
}
