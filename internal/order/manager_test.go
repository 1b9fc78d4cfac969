package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"trading_engine/internal/core"
	"trading_engine/internal/ledger"
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

func newTestManager() (*Manager, *mock.Gateway, *ledger.Ledger) {
	gw := mock.NewGateway()
	book := ledger.NewLedger(mock.NewLogger())
	return NewManager(gw, book, mock.NewLogger()), gw, book
}

func submit(t *testing.T, m *Manager, instrument string, side core.Side, qty string) uint64 {
	t.Helper()
	id, err := m.Submit(context.Background(), core.Signal{
		Instrument: instrument,
		Side:       side,
		Quantity:   d(qty),
	})
	require.NoError(t, err)
	return id
}

func TestSubmitReachesGateway(t *testing.T) {
	m, gw, _ := newTestManager()

	id := submit(t, m, "BTC-USD", core.SideBuy, "1")

	o, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, core.OrderSubmitted, o.State)
	assert.NotEmpty(t, o.ClientOrderID)
	assert.Equal(t, 1, gw.SubmittedCount())
}

func TestOrderIDsAreUniqueAndMonotonic(t *testing.T) {
	m, _, _ := newTestManager()

	prev := submit(t, m, "BTC-USD", core.SideBuy, "1")
	for i := 0; i < 10; i++ {
		id := submit(t, m, "BTC-USD", core.SideBuy, "1")
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestGatewayFailureRejectsOrder(t *testing.T) {
	m, gw, _ := newTestManager()
	gw.SubmitErr = fmt.Errorf("connection refused")

	id, err := m.Submit(context.Background(), core.Signal{
		Instrument: "BTC-USD", Side: core.SideBuy, Quantity: d("1"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExecutionGateway))

	o, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, core.OrderRejected, o.State)
}

func TestFullFillUpdatesLedgerOnce(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.OnFill(id, d("10"), d("50")))

	o, _ := m.Get(id)
	assert.Equal(t, core.OrderFilled, o.State)
	assert.True(t, o.FilledQty.Equal(d("10")))
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("10")))
}

func TestDuplicateFillIsDiscarded(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.OnFill(id, d("10"), d("50")))

	// Same fill delivered again: discarded, ledger unchanged
	err := m.OnFill(id, d("10"), d("50"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrOrderAlreadyTerminal))
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("10")),
		"duplicate fill must not change the position")
}

func TestPartialFillsAccumulate(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.OnFill(id, d("4"), d("100")))
	o, _ := m.Get(id)
	assert.Equal(t, core.OrderPartiallyFilled, o.State)

	require.NoError(t, m.OnFill(id, d("6"), d("110")))
	o, _ = m.Get(id)
	assert.Equal(t, core.OrderFilled, o.State)
	assert.True(t, o.FilledQty.Equal(d("10")))
	// (4*100 + 6*110) / 10 = 106
	assert.True(t, o.AvgFillPrice.Equal(d("106")), "got %s", o.AvgFillPrice)
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("10")))
}

func TestOverfillRejected(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.OnFill(id, d("8"), d("100")))
	err := m.OnFill(id, d("5"), d("100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidFill))

	// The bad fill left no trace
	o, _ := m.Get(id)
	assert.True(t, o.FilledQty.Equal(d("8")))
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("8")))
}

func TestCancelIsAdvisory(t *testing.T) {
	m, gw, _ := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.Cancel(context.Background(), id))

	o, _ := m.Get(id)
	assert.Equal(t, core.OrderSubmitted, o.State, "cancel must not change state by itself")
	assert.True(t, o.CancelPending)
	assert.Equal(t, []uint64{id}, gw.Cancelled)

	require.NoError(t, m.OnCancelConfirmed(id))
	o, _ = m.Get(id)
	assert.Equal(t, core.OrderCancelled, o.State)
}

func TestDuplicateCancelRequestsSentOnce(t *testing.T) {
	m, gw, _ := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.Cancel(context.Background(), id))
	require.NoError(t, m.Cancel(context.Background(), id))
	require.NoError(t, m.Cancel(context.Background(), id))

	assert.Equal(t, []uint64{id}, gw.Cancelled, "one outstanding request per order")
}

func TestCancelRetriableAfterGatewayFailure(t *testing.T) {
	m, gw, _ := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	gw.CancelErr = errors.New("broker unreachable")
	err := m.Cancel(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExecutionGateway))

	o, _ := m.Get(id)
	assert.False(t, o.CancelPending, "failed request must not block a retry")

	gw.CancelErr = nil
	require.NoError(t, m.Cancel(context.Background(), id))
	assert.Equal(t, []uint64{id}, gw.Cancelled)
}

func TestFillBeatsCancel(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.Cancel(context.Background(), id))
	require.NoError(t, m.OnFill(id, d("10"), d("50")))

	// The late confirmation is discarded; the order stays Filled
	err := m.OnCancelConfirmed(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrOrderAlreadyTerminal))

	o, _ := m.Get(id)
	assert.Equal(t, core.OrderFilled, o.State)
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("10")))
}

func TestPartiallyFilledThenCancelled(t *testing.T) {
	m, _, book := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "10")

	require.NoError(t, m.OnFill(id, d("3"), d("100")))
	require.NoError(t, m.Cancel(context.Background(), id))
	require.NoError(t, m.OnCancelConfirmed(id))

	o, _ := m.Get(id)
	assert.Equal(t, core.OrderCancelled, o.State)
	assert.True(t, o.FilledQty.Equal(d("3")), "filled quantity survives cancellation")
	assert.True(t, book.Position("BTC-USD").Quantity.Equal(d("3")))
}

func TestExactlyOneTerminalState(t *testing.T) {
	m, _, _ := newTestManager()
	id := submit(t, m, "BTC-USD", core.SideBuy, "1")

	require.NoError(t, m.OnReject(id, "broker says no"))

	// Every further terminal transition is refused
	assert.True(t, errors.Is(m.OnReject(id, "again"), apperrors.ErrOrderAlreadyTerminal))
	assert.True(t, errors.Is(m.OnCancelConfirmed(id), apperrors.ErrOrderAlreadyTerminal))
	assert.True(t, errors.Is(m.OnFill(id, d("1"), d("100")), apperrors.ErrOrderAlreadyTerminal))

	o, _ := m.Get(id)
	assert.Equal(t, core.OrderRejected, o.State)
	assert.Equal(t, "broker says no", o.RejectReason)
}

func TestUnknownOrderEvents(t *testing.T) {
	m, _, _ := newTestManager()

	assert.True(t, errors.Is(m.OnFill(999, d("1"), d("1")), apperrors.ErrUnknownOrder))
	assert.True(t, errors.Is(m.OnReject(999, "x"), apperrors.ErrUnknownOrder))
	assert.True(t, errors.Is(m.OnCancelConfirmed(999), apperrors.ErrUnknownOrder))
	assert.True(t, errors.Is(m.Cancel(context.Background(), 999), apperrors.ErrUnknownOrder))
}

func TestTerminalOrdersArchived(t *testing.T) {
	m, _, _ := newTestManager()

	filled := submit(t, m, "BTC-USD", core.SideBuy, "1")
	open := submit(t, m, "BTC-USD", core.SideBuy, "1")
	require.NoError(t, m.OnFill(filled, d("1"), d("100")))

	archive := m.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, filled, archive[0].ID)

	active := m.ActiveOrders()
	require.Len(t, active, 1)
	assert.Equal(t, open, active[0].ID)
}

func TestConcurrentFillsSerializePerInstrument(t *testing.T) {
	m, _, book := newTestManager()

	const n = 50
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = submit(t, m, "BTC-USD", core.SideBuy, "1")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			assert.NoError(t, m.OnFill(id, d("1"), d("100")))
		}(id)
	}
	wg.Wait()

	pos := book.Position("BTC-USD")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(n)),
		"every fill applied exactly once, got %s", pos.Quantity)
}
