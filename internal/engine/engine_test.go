package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"trading_engine/internal/core"
	"trading_engine/internal/ledger"
	"trading_engine/internal/marketstate"
	"trading_engine/internal/mock"
	"trading_engine/internal/normalizer"
	"trading_engine/internal/order"
	"trading_engine/internal/risk"
	"trading_engine/internal/strategy"
	apperrors "trading_engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buyOnEveryTrade emits a fixed buy for its instrument on each trade
type buyOnEveryTrade struct {
	instrument string
	qty        decimal.Decimal
}

func (s *buyOnEveryTrade) Name() string { return "buy_on_trade" }
func (s *buyOnEveryTrade) OnTrade(tr core.Trade, _ core.InstrumentState) *core.Signal {
	if tr.Instrument != s.instrument {
		return nil
	}
	return &core.Signal{Instrument: s.instrument, Side: core.SideBuy, Quantity: s.qty}
}

type fixture struct {
	eng   *Engine
	store *marketstate.Store
	book  *ledger.Ledger
	gw    *mock.Gateway
	host  *strategy.Host
}

func newFixture(t *testing.T, limits core.RiskLimits) *fixture {
	t.Helper()
	logger := mock.NewLogger()
	store := marketstate.NewStore(16, logger)
	book := ledger.NewLedger(logger)
	gate := risk.NewGate(limits, store, logger)
	host := strategy.NewHost(logger)
	gw := mock.NewGateway()
	orders := order.NewManager(gw, book, logger)

	eng := New(Config{Partitions: 2, QueueSize: 64, SubmitWorkers: 2},
		normalizer.New(), store, host, gate, orders, book, logger)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	return &fixture{eng: eng, store: store, book: book, gw: gw, host: host}
}

func tradeJSON(instrument string, price float64, tsMillis int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"trade","instrument":%q,"price":%v,"size":1,"ts":%d}`,
		instrument, price, tsMillis))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipelineAppliesEventsInArrivalOrder(t *testing.T) {
	f := newFixture(t, core.RiskLimits{})

	for i := 1; i <= 50; i++ {
		require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", float64(i), int64(i))))
	}

	waitFor(t, func() bool { return f.store.AppliedCount() == 50 }, "events not applied")
	snap, ok := f.store.Snapshot("BTC-USD")
	require.True(t, ok)
	assert.True(t, snap.LastTrade.Price.Equal(decimal.NewFromInt(50)),
		"last write wins under in-order processing, got %s", snap.LastTrade.Price)
}

func TestMalformedMessagesAreDroppedNotFatal(t *testing.T) {
	f := newFixture(t, core.RiskLimits{})

	err := f.eng.HandleRawMessage("test", []byte(`{"garbage`))
	require.Error(t, err)
	var nerr *normalizer.NormalizationError
	assert.True(t, errors.As(err, &nerr))

	// The stream keeps flowing
	require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", 100, 1)))
	waitFor(t, func() bool { return f.store.AppliedCount() == 1 }, "valid event not applied")
}

func TestStaleEventsCountedOnce(t *testing.T) {
	f := newFixture(t, core.RiskLimits{})

	require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", 100, 2000)))
	require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", 99, 1000)))

	waitFor(t, func() bool { return f.store.StaleCount() == 1 }, "stale event not counted")
	assert.Equal(t, int64(1), f.store.AppliedCount())

	snap, _ := f.store.Snapshot("BTC-USD")
	assert.True(t, snap.LastTrade.Price.Equal(decimal.NewFromInt(100)))
}

func TestSignalFlowsThroughRiskToGateway(t *testing.T) {
	f := newFixture(t, core.RiskLimits{DefaultMaxPosition: decimal.NewFromInt(100)})
	f.host.Register(&buyOnEveryTrade{instrument: "BTC-USD", qty: decimal.NewFromInt(1)})

	require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", 100, 1)))

	waitFor(t, func() bool { return f.gw.SubmittedCount() == 1 }, "order never reached gateway")
	assert.Equal(t, "BTC-USD", f.gw.Submitted[0].Instrument)
	assert.Equal(t, core.SideBuy, f.gw.Submitted[0].Side)
}

func TestRiskRejectionBlocksSubmission(t *testing.T) {
	// Limit 5: a 10-lot signal must never reach the gateway
	f := newFixture(t, core.RiskLimits{DefaultMaxPosition: decimal.NewFromInt(5)})
	f.host.Register(&buyOnEveryTrade{instrument: "BTC-USD", qty: decimal.NewFromInt(10)})

	require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", 100, 1)))

	waitFor(t, func() bool { return f.store.AppliedCount() == 1 }, "event not applied")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.gw.SubmittedCount())
}

func TestInstrumentsProcessIndependently(t *testing.T) {
	f := newFixture(t, core.RiskLimits{})

	const n = 100
	for i := 1; i <= n; i++ {
		require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("BTC-USD", float64(i), int64(i))))
		require.NoError(t, f.eng.HandleRawMessage("test", tradeJSON("ETH-USD", float64(i), int64(i))))
	}

	waitFor(t, func() bool { return f.store.AppliedCount() == 2*n }, "events not applied")
	for _, inst := range []string{"BTC-USD", "ETH-USD"} {
		snap, ok := f.store.Snapshot(inst)
		require.True(t, ok, inst)
		assert.True(t, snap.LastTrade.Price.Equal(decimal.NewFromInt(n)), inst)
	}
}

func TestHandleAfterStopFails(t *testing.T) {
	logger := mock.NewLogger()
	store := marketstate.NewStore(16, logger)
	book := ledger.NewLedger(logger)
	gate := risk.NewGate(core.RiskLimits{}, store, logger)
	host := strategy.NewHost(logger)
	orders := order.NewManager(mock.NewGateway(), book, logger)

	eng := New(Config{Partitions: 1, QueueSize: 8, SubmitWorkers: 1},
		normalizer.New(), store, host, gate, orders, book, logger)
	eng.Start(context.Background())
	eng.Stop()

	err := eng.HandleRawMessage("test", tradeJSON("BTC-USD", 100, 1))
	assert.True(t, errors.Is(err, apperrors.ErrEngineStopped))
}

func TestLaneAssignmentIsStable(t *testing.T) {
	f := newFixture(t, core.RiskLimits{})

	a := f.eng.laneFor("BTC-USD")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, f.eng.laneFor("BTC-USD"))
	}
}
