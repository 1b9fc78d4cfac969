// Package risk validates proposed orders against position, notional and
// loss limits before they reach the execution path.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trading_engine/internal/core"
	apperrors "trading_engine/pkg/errors"
	"trading_engine/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Rule identifies which risk check an order breached
type Rule string

const (
	RulePositionLimit     Rule = "position_limit"
	RulePortfolioNotional Rule = "portfolio_notional"
	RuleDailyLoss         Rule = "daily_loss"
)

// Violation carries the specific rule an order breached
type Violation struct {
	Rule       Rule
	Instrument string
	Detail     string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("risk violation [%s] %s: %s", v.Rule, v.Instrument, v.Detail)
}

// Unwrap lets errors.Is match the daily-loss sentinel
func (v *Violation) Unwrap() error {
	if v.Rule == RuleDailyLoss {
		return apperrors.ErrDailyLossLimitBreached
	}
	return nil
}

// Gate validates proposed orders. The daily-loss check is latched: once
// breached, every subsequent order is rejected for the remainder of the
// session until an explicit operator Reset.
type Gate struct {
	limits core.RiskLimits
	marks  core.IMarketStore // mark-to-market source for unrealized P&L; may be nil
	logger core.ILogger

	mu        sync.Mutex
	latched   bool
	latchedAt time.Time
}

// NewGate creates a risk gate with an immutable limit snapshot
func NewGate(limits core.RiskLimits, marks core.IMarketStore, logger core.ILogger) *Gate {
	return &Gate{
		limits: limits,
		marks:  marks,
		logger: logger.WithField("component", "risk_gate"),
	}
}

// Validate checks a signal against the given position snapshot. Checks
// run in order, short-circuiting on first failure: position limit,
// portfolio notional, daily loss. Errors are always *Violation.
func (g *Gate) Validate(sig core.Signal, snapshot core.PositionSnapshot) error {
	ctx := context.Background()

	// A tripped latch rejects everything, even orders that would pass
	// the other checks on their own.
	g.mu.Lock()
	latched := g.latched
	g.mu.Unlock()
	if latched {
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx, string(RuleDailyLoss))
		return &Violation{Rule: RuleDailyLoss, Instrument: sig.Instrument, Detail: "loss limit latch is tripped"}
	}

	if err := g.checkPositionLimit(sig, snapshot); err != nil {
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx, string(RulePositionLimit))
		return err
	}
	if err := g.checkPortfolioNotional(sig, snapshot); err != nil {
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx, string(RulePortfolioNotional))
		return err
	}
	if err := g.checkDailyLoss(sig, snapshot); err != nil {
		telemetry.GetGlobalMetrics().AddOrderRejected(ctx, string(RuleDailyLoss))
		return err
	}

	telemetry.GetGlobalMetrics().AddOrderApproved(ctx, sig.Instrument)
	return nil
}

// Latched reports whether the daily-loss latch is tripped
func (g *Gate) Latched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

// Reset clears the daily-loss latch. Operator action only; the latch
// never clears itself.
func (g *Gate) Reset() {
	g.mu.Lock()
	wasLatched := g.latched
	g.latched = false
	g.mu.Unlock()

	if wasLatched {
		g.logger.Warn("Daily loss latch reset by operator")
	}
}

func (g *Gate) checkPositionLimit(sig core.Signal, snapshot core.PositionSnapshot) error {
	maxPos := g.limits.MaxPositionFor(sig.Instrument)
	if !maxPos.IsPositive() {
		return nil
	}

	current := snapshot.Get(sig.Instrument).Quantity
	resulting := current.Add(sig.Quantity.Mul(sig.Side.Sign()))
	if resulting.Abs().GreaterThan(maxPos) {
		return &Violation{
			Rule:       RulePositionLimit,
			Instrument: sig.Instrument,
			Detail: fmt.Sprintf("resulting position %s exceeds limit %s (current %s, order %s %s)",
				resulting, maxPos, current, sig.Side, sig.Quantity),
		}
	}
	return nil
}

func (g *Gate) checkPortfolioNotional(sig core.Signal, snapshot core.PositionSnapshot) error {
	maxNotional := g.limits.MaxPortfolioNotional
	if !maxNotional.IsPositive() {
		return nil
	}

	total := decimal.Zero
	for inst, pos := range snapshot.Positions {
		qty := pos.Quantity
		if inst == sig.Instrument {
			qty = qty.Add(sig.Quantity.Mul(sig.Side.Sign()))
		}
		total = total.Add(qty.Abs().Mul(g.markFor(inst, pos.AvgEntryPrice)))
	}
	if _, ok := snapshot.Positions[sig.Instrument]; !ok {
		total = total.Add(sig.Quantity.Mul(g.orderPrice(sig)))
	}

	if total.GreaterThan(maxNotional) {
		return &Violation{
			Rule:       RulePortfolioNotional,
			Instrument: sig.Instrument,
			Detail:     fmt.Sprintf("resulting portfolio notional %s exceeds limit %s", total, maxNotional),
		}
	}
	return nil
}

func (g *Gate) checkDailyLoss(sig core.Signal, snapshot core.PositionSnapshot) error {
	limit := g.limits.DailyLossLimit
	if !limit.IsPositive() {
		return nil
	}

	pnl := snapshot.RealizedTotal
	for inst, pos := range snapshot.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		mark := g.markFor(inst, decimal.Zero)
		if mark.IsZero() {
			// No mark yet: unrealized contribution unknown, treat as zero
			continue
		}
		pnl = pnl.Add(mark.Sub(pos.AvgEntryPrice).Mul(pos.Quantity))
	}

	if pnl.IsNegative() && pnl.Abs().GreaterThan(limit) {
		g.trip(pnl)
		return &Violation{
			Rule:       RuleDailyLoss,
			Instrument: sig.Instrument,
			Detail:     fmt.Sprintf("session P&L %s beyond daily loss limit %s", pnl, limit),
		}
	}
	return nil
}

func (g *Gate) trip(pnl decimal.Decimal) {
	g.mu.Lock()
	already := g.latched
	g.latched = true
	g.latchedAt = time.Now().UTC()
	g.mu.Unlock()

	if !already {
		telemetry.GetGlobalMetrics().AddLossLimitTrip(context.Background())
		g.logger.Error("Daily loss limit breached, latching risk gate shut", "pnl", pnl.String())
	}
}

// markFor returns the last trade price for an instrument, or fallback
// when no trade has been seen.
func (g *Gate) markFor(instrument string, fallback decimal.Decimal) decimal.Decimal {
	if g.marks == nil {
		return fallback
	}
	snap, ok := g.marks.Snapshot(instrument)
	if !ok || snap.LastTrade == nil {
		return fallback
	}
	return snap.LastTrade.Price
}

// orderPrice returns the limit price of a signal, or the current mark
// for marketable signals.
func (g *Gate) orderPrice(sig core.Signal) decimal.Decimal {
	if sig.LimitPrice != nil {
		return *sig.LimitPrice
	}
	return g.markFor(sig.Instrument, decimal.Zero)
}
