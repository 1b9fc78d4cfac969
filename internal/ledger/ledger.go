// Package ledger is the authoritative record of open positions and
// realized P&L, derived exclusively from order fills. The order
// lifecycle manager is its single writer; everyone else reads
// snapshots.
package ledger

import (
	"fmt"
	"sync"
	"time"
	"trading_engine/internal/core"
	apperrors "trading_engine/pkg/errors"
	"trading_engine/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Ledger holds all positions behind one short-held lock. Portfolio
// limits span instruments, so snapshots must be atomic across the whole
// book; per-instrument locking would not give that.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]core.Position
	realized  decimal.Decimal
	logger    core.ILogger
}

// NewLedger creates an empty ledger
func NewLedger(logger core.ILogger) *Ledger {
	return &Ledger{
		positions: make(map[string]core.Position),
		logger:    logger.WithField("component", "position_ledger"),
	}
}

// ApplyFill applies a signed quantity delta at the given price.
// Same-direction adds move the average entry by weighted average;
// reductions and flips book realized P&L against the existing average
// entry. Average entry is undefined (zero) while flat.
func (l *Ledger) ApplyFill(instrument string, delta, price decimal.Decimal) error {
	if delta.IsZero() {
		return fmt.Errorf("%w: zero quantity delta for %s", apperrors.ErrInvalidFill, instrument)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s for %s", apperrors.ErrInvalidFill, price, instrument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[instrument]
	if !ok {
		pos = core.Position{Instrument: instrument}
	}

	if err := checkInvariant(pos); err != nil {
		return err
	}

	switch {
	case pos.Quantity.IsZero():
		// Opening from flat
		pos.Quantity = delta
		pos.AvgEntryPrice = price

	case pos.Quantity.Sign() == delta.Sign():
		// Same-direction add: weighted average entry
		oldAbs := pos.Quantity.Abs()
		addAbs := delta.Abs()
		totalAbs := oldAbs.Add(addAbs)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(oldAbs).Add(price.Mul(addAbs)).Div(totalAbs)
		pos.Quantity = pos.Quantity.Add(delta)

	default:
		// Reduction or flip: realize P&L on the closed quantity
		closedAbs := decimal.Min(pos.Quantity.Abs(), delta.Abs())
		direction := decimal.NewFromInt(int64(pos.Quantity.Sign()))
		realized := price.Sub(pos.AvgEntryPrice).Mul(closedAbs).Mul(direction)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		l.realized = l.realized.Add(realized)

		remaining := pos.Quantity.Add(delta)
		switch {
		case remaining.IsZero():
			pos.Quantity = decimal.Zero
			pos.AvgEntryPrice = decimal.Zero
		case remaining.Sign() == pos.Quantity.Sign():
			// Partial reduction keeps the entry price
			pos.Quantity = remaining
		default:
			// Flip: the surplus opens a new position at the fill price
			pos.Quantity = remaining
			pos.AvgEntryPrice = price
		}
	}

	if err := checkInvariant(pos); err != nil {
		return err
	}

	l.positions[instrument] = pos

	size, _ := pos.Quantity.Float64()
	pnl, _ := pos.RealizedPnL.Float64()
	telemetry.GetGlobalMetrics().SetPositionSize(instrument, size)
	telemetry.GetGlobalMetrics().SetRealizedPnL(instrument, pnl)
	return nil
}

// checkInvariant detects a poisoned position: quantity and entry price
// must be defined (nonzero) together. A violation means the
// single-writer discipline was broken and is fatal.
func checkInvariant(pos core.Position) error {
	if !pos.Quantity.IsZero() && pos.AvgEntryPrice.IsZero() {
		return fmt.Errorf("%w: %s has quantity %s with undefined entry price",
			apperrors.ErrLedgerCorrupted, pos.Instrument, pos.Quantity)
	}
	return nil
}

// Snapshot returns an immutable, internally consistent copy of all
// positions.
func (l *Ledger) Snapshot() core.PositionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]core.Position, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return core.PositionSnapshot{
		Positions:     out,
		RealizedTotal: l.realized,
		TakenAt:       time.Now().UTC(),
	}
}

// Position returns the current position for one instrument
func (l *Ledger) Position(instrument string) core.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[instrument]; ok {
		return p
	}
	return core.Position{Instrument: instrument}
}

// RealizedTotal returns the cumulative realized P&L across instruments
func (l *Ledger) RealizedTotal() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}
