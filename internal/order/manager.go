// Package order owns the state machine for every order from creation to
// terminal state. It is the single writer of the position ledger.
package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"trading_engine/internal/core"
	"trading_engine/internal/ledger"
	apperrors "trading_engine/pkg/errors"
	"trading_engine/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager tracks all orders and applies their fills to the ledger.
// Fill application is serialized per instrument so two concurrent fills
// for the same instrument cannot produce a lost ledger update.
type Manager struct {
	gateway core.IExecutionGateway
	ledger  *ledger.Ledger
	logger  core.ILogger

	seq atomic.Uint64

	mu      sync.RWMutex
	orders  map[uint64]*core.Order
	archive []*core.Order

	instMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewManager creates an order lifecycle manager writing to the given
// ledger and submitting through the given gateway.
func NewManager(gateway core.IExecutionGateway, l *ledger.Ledger, logger core.ILogger) *Manager {
	return &Manager{
		gateway: gateway,
		ledger:  l,
		logger:  logger.WithField("component", "order_manager"),
		orders:  make(map[uint64]*core.Order),
		locks:   make(map[string]*sync.Mutex),
	}
}

// instrumentLock returns the serialization lock for one instrument
func (m *Manager) instrumentLock(instrument string) *sync.Mutex {
	m.instMu.Lock()
	defer m.instMu.Unlock()
	lk, ok := m.locks[instrument]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[instrument] = lk
	}
	return lk
}

// Submit creates an order from an approved signal and hands it to the
// execution gateway. The hand-off is asynchronous: broker results come
// back through OnFill/OnReject/OnCancelConfirmed. A synchronous gateway
// error marks the order Rejected immediately since submission was never
// confirmed.
func (m *Manager) Submit(ctx context.Context, sig core.Signal) (uint64, error) {
	now := time.Now().UTC()
	o := &core.Order{
		ID:            m.seq.Add(1),
		ClientOrderID: uuid.NewString(),
		Instrument:    sig.Instrument,
		Side:          sig.Side,
		Quantity:      sig.Quantity,
		State:         core.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sig.LimitPrice != nil {
		px := *sig.LimitPrice
		o.LimitPrice = &px
	}

	m.mu.Lock()
	m.orders[o.ID] = o
	o.State = core.OrderSubmitted
	m.mu.Unlock()

	m.logger.Info("Order submitted",
		"order_id", o.ID,
		"instrument", o.Instrument,
		"side", o.Side.String(),
		"quantity", o.Quantity.String())

	if err := m.gateway.SubmitOrder(ctx, m.copyOf(o.ID)); err != nil {
		gerr := fmt.Errorf("%w: submit order %d: %v", apperrors.ErrExecutionGateway, o.ID, err)
		m.logger.Error("Gateway submission failed, rejecting order", "order_id", o.ID, "error", err)
		// Submission never confirmed: terminal Rejected
		if rerr := m.OnReject(o.ID, "gateway: "+err.Error()); rerr != nil {
			m.logger.Error("Failed to reject unconfirmed order", "order_id", o.ID, "error", rerr)
		}
		return o.ID, gerr
	}

	return o.ID, nil
}

// OnFill applies a fill to an order. Fills for already-terminal orders
// are duplicate/late delivery anomalies: counted and discarded, so the
// ledger changes at most once per fill. Exactly one ledger update
// happens per accepted fill.
func (m *Manager) OnFill(orderID uint64, filledQty, price decimal.Decimal) error {
	m.mu.RLock()
	o, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: fill for order %d", apperrors.ErrUnknownOrder, orderID)
	}

	lk := m.instrumentLock(o.Instrument)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	if o.State.IsTerminal() {
		m.mu.Unlock()
		telemetry.GetGlobalMetrics().AddFillDuplicate(context.Background(), o.Instrument)
		m.logger.Warn("Fill for terminal order discarded",
			"order_id", orderID, "state", o.State.String(), "qty", filledQty.String())
		return fmt.Errorf("%w: order %d is %s", apperrors.ErrOrderAlreadyTerminal, orderID, o.State)
	}
	if !filledQty.IsPositive() {
		m.mu.Unlock()
		return fmt.Errorf("%w: non-positive fill qty %s for order %d", apperrors.ErrInvalidFill, filledQty, orderID)
	}
	newFilled := o.FilledQty.Add(filledQty)
	if newFilled.GreaterThan(o.Quantity) {
		m.mu.Unlock()
		return fmt.Errorf("%w: fill %s would exceed order quantity %s (order %d)",
			apperrors.ErrInvalidFill, newFilled, o.Quantity, orderID)
	}

	// Volume-weighted average of all fills on this order
	if o.FilledQty.IsZero() {
		o.AvgFillPrice = price
	} else {
		o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQty).Add(price.Mul(filledQty)).Div(newFilled)
	}
	o.FilledQty = newFilled
	o.UpdatedAt = time.Now().UTC()
	if newFilled.Equal(o.Quantity) {
		o.State = core.OrderFilled
		m.archiveLocked(o)
	} else {
		o.State = core.OrderPartiallyFilled
	}
	instrument := o.Instrument
	delta := filledQty.Mul(o.Side.Sign())
	m.mu.Unlock()

	if err := m.ledger.ApplyFill(instrument, delta, price); err != nil {
		// A corrupted ledger is an internal-consistency fault, not a
		// recoverable per-order error.
		m.logger.Error("Ledger update failed", "order_id", orderID, "error", err)
		return err
	}

	telemetry.GetGlobalMetrics().AddFillApplied(context.Background(), instrument)
	m.logger.Info("Fill applied",
		"order_id", orderID,
		"instrument", instrument,
		"qty", filledQty.String(),
		"price", price.String())
	return nil
}

// OnReject marks an order Rejected. No ledger change.
func (m *Manager) OnReject(orderID uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: reject for order %d", apperrors.ErrUnknownOrder, orderID)
	}
	if o.State.IsTerminal() {
		return fmt.Errorf("%w: order %d is %s", apperrors.ErrOrderAlreadyTerminal, orderID, o.State)
	}

	o.State = core.OrderRejected
	o.RejectReason = reason
	o.UpdatedAt = time.Now().UTC()
	m.archiveLocked(o)

	m.logger.Warn("Order rejected", "order_id", orderID, "reason", reason)
	return nil
}

// Cancel requests cancellation from the gateway. The request is
// advisory: state changes only when OnCancelConfirmed arrives, and a
// fill racing the cancel wins. A repeat Cancel while the first request
// is still outstanding is a no-op.
func (m *Manager) Cancel(ctx context.Context, orderID uint64) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: cancel for order %d", apperrors.ErrUnknownOrder, orderID)
	}
	switch o.State {
	case core.OrderPending, core.OrderSubmitted, core.OrderPartiallyFilled:
		if o.CancelPending {
			m.mu.Unlock()
			m.logger.Debug("Cancel already pending", "order_id", orderID)
			return nil
		}
		o.CancelPending = true
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel order %d in state %s", apperrors.ErrOrderAlreadyTerminal, orderID, o.State)
	}
	m.mu.Unlock()

	if err := m.gateway.CancelOrder(ctx, orderID); err != nil {
		// Request never reached the broker: allow a later retry
		m.mu.Lock()
		o.CancelPending = false
		m.mu.Unlock()
		return fmt.Errorf("%w: cancel order %d: %v", apperrors.ErrExecutionGateway, orderID, err)
	}
	m.logger.Info("Cancel requested", "order_id", orderID)
	return nil
}

// OnCancelConfirmed transitions an order to Cancelled. A confirmation
// arriving after the order went terminal (e.g. it filled first) is
// discarded.
func (m *Manager) OnCancelConfirmed(orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: cancel confirmation for order %d", apperrors.ErrUnknownOrder, orderID)
	}
	if o.State.IsTerminal() {
		m.logger.Warn("Cancel confirmation for terminal order discarded",
			"order_id", orderID, "state", o.State.String())
		return fmt.Errorf("%w: order %d is %s", apperrors.ErrOrderAlreadyTerminal, orderID, o.State)
	}

	o.State = core.OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	m.archiveLocked(o)

	m.logger.Info("Order cancelled", "order_id", orderID, "filled_qty", o.FilledQty.String())
	return nil
}

// archiveLocked records a terminal order for audit. Caller holds m.mu.
func (m *Manager) archiveLocked(o *core.Order) {
	m.archive = append(m.archive, o)
}

// Get returns a copy of an order
func (m *Manager) Get(orderID uint64) (core.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// ActiveOrders returns copies of all non-terminal orders
func (m *Manager) ActiveOrders() []core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Order
	for _, o := range m.orders {
		if !o.State.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// Archive returns copies of all terminal orders in archival order
func (m *Manager) Archive() []core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Order, len(m.archive))
	for i, o := range m.archive {
		out[i] = *o
	}
	return out
}

// copyOf returns a detached copy for handing outside the lock
func (m *Manager) copyOf(orderID uint64) *core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[orderID]; ok {
		c := *o
		return &c
	}
	return nil
}
