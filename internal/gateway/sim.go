// Package gateway contains execution gateway implementations: a
// simulated broker for testing and paper trading, and a throttling
// decorator that rate-limits any gateway.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"trading_engine/internal/core"
	apperrors "trading_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// SimConfig controls the simulated broker's behavior
type SimConfig struct {
	// FillLatency is how long after submission the fill arrives
	FillLatency time.Duration
	// PartialFills splits each order into this many fills (min 1)
	PartialFills int
	// RejectRate is the probability [0,1) that an order is rejected
	RejectRate float64
	// Slippage shifts the fill price away from the limit, in price units
	Slippage decimal.Decimal
}

// Sim is a simulated execution gateway. Submissions are acknowledged
// synchronously and results delivered asynchronously through the
// IOrderEvents callbacks, matching the real broker contract.
type Sim struct {
	cfg    SimConfig
	events core.IOrderEvents
	logger core.ILogger
	rng    *rand.Rand

	mu      sync.Mutex
	pending map[uint64]*simOrder
	wg      sync.WaitGroup
	closed  bool
}

type simOrder struct {
	order  core.Order
	cancel chan struct{}
}

// NewSim creates a simulated gateway delivering results to events.
// events may be nil at construction and bound later with SetEvents; the
// order manager and its gateway reference each other.
func NewSim(cfg SimConfig, events core.IOrderEvents, logger core.ILogger) *Sim {
	if cfg.PartialFills < 1 {
		cfg.PartialFills = 1
	}
	if cfg.FillLatency <= 0 {
		cfg.FillLatency = 5 * time.Millisecond
	}
	return &Sim{
		cfg:     cfg,
		events:  events,
		logger:  logger.WithField("component", "sim_gateway"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		pending: make(map[uint64]*simOrder),
	}
}

// SetEvents binds the callback sink. Must be called before the first
// SubmitOrder.
func (s *Sim) SetEvents(events core.IOrderEvents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// SubmitOrder acknowledges the order and schedules asynchronous fills
func (s *Sim) SubmitOrder(ctx context.Context, order *core.Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", apperrors.ErrExecutionGateway)
	}

	s.mu.Lock()
	if s.events == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no event sink bound", apperrors.ErrExecutionGateway)
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: gateway closed", apperrors.ErrExecutionGateway)
	}
	so := &simOrder{order: *order, cancel: make(chan struct{})}
	s.pending[order.ID] = so
	reject := s.rng.Float64() < s.cfg.RejectRate
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(so, reject)
	return nil
}

// CancelOrder requests cancellation of a pending simulated order. The
// confirmation is delivered asynchronously; an order whose fills have
// already been scheduled may still fill first.
func (s *Sim) CancelOrder(ctx context.Context, orderID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.pending[orderID]
	if !ok {
		return fmt.Errorf("%w: order %d not pending at broker", apperrors.ErrUnknownOrder, orderID)
	}

	select {
	case <-so.cancel:
		// already cancelled
	default:
		close(so.cancel)
	}
	return nil
}

// Close waits for all in-flight simulated deliveries to finish
func (s *Sim) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sim) run(so *simOrder, reject bool) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.pending, so.order.ID)
		s.mu.Unlock()
	}()

	if reject {
		time.Sleep(s.cfg.FillLatency)
		if err := s.events.OnReject(so.order.ID, "simulated broker reject"); err != nil {
			s.logger.Warn("Reject delivery refused", "order_id", so.order.ID, "error", err)
		}
		return
	}

	fillPrice := s.fillPrice(so.order)
	slices := splitQuantity(so.order.Quantity, s.cfg.PartialFills)

	for _, qty := range slices {
		select {
		case <-so.cancel:
			if err := s.events.OnCancelConfirmed(so.order.ID); err != nil {
				s.logger.Warn("Cancel confirmation refused", "order_id", so.order.ID, "error", err)
			}
			return
		case <-time.After(s.cfg.FillLatency):
		}
		if err := s.events.OnFill(so.order.ID, qty, fillPrice); err != nil {
			s.logger.Warn("Fill delivery refused", "order_id", so.order.ID, "error", err)
			return
		}
	}
}

// fillPrice derives the execution price: limit price adjusted by
// slippage against the order, or a default when no limit was given.
func (s *Sim) fillPrice(o core.Order) decimal.Decimal {
	base := decimal.NewFromInt(100)
	if o.LimitPrice != nil {
		base = *o.LimitPrice
	}
	if s.cfg.Slippage.IsZero() {
		return base
	}
	// Slippage always works against the order
	return base.Add(s.cfg.Slippage.Mul(o.Side.Sign()))
}

// splitQuantity divides qty into n positive slices summing exactly to qty
func splitQuantity(qty decimal.Decimal, n int) []decimal.Decimal {
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	each := qty.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	if !each.IsPositive() {
		return []decimal.Decimal{qty}
	}
	out := make([]decimal.Decimal, 0, n)
	rest := qty
	for i := 0; i < n-1; i++ {
		out = append(out, each)
		rest = rest.Sub(each)
	}
	return append(out, rest)
}
