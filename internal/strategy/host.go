package strategy

import (
	"context"
	"sync"
	"trading_engine/internal/core"
	"trading_engine/pkg/telemetry"
)

// Health is the per-unit health state
type Health int

const (
	Healthy Health = iota
	Degraded
)

// String returns the string representation of a health state
func (h Health) String() string {
	if h == Degraded {
		return "DEGRADED"
	}
	return "HEALTHY"
}

type unit struct {
	strategy Strategy
	health   Health
	lastErr  interface{} // recovered panic value, if any
}

// Host owns the registered decision units. One faulty unit cannot
// destabilize the others: a panic is recovered, the unit is marked
// Degraded and skipped for subsequent events.
type Host struct {
	mu     sync.RWMutex
	units  []*unit
	logger core.ILogger
}

// NewHost creates an empty strategy host
func NewHost(logger core.ILogger) *Host {
	return &Host{
		logger: logger.WithField("component", "strategy_host"),
	}
}

// Register adds a decision unit. Registration order is dispatch order.
func (h *Host) Register(s Strategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.units = append(h.units, &unit{strategy: s, health: Healthy})
	h.logger.Info("Strategy registered", "strategy", s.Name())
}

// Health returns the health of a named unit
func (h *Host) Health(name string) (Health, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, u := range h.units {
		if u.strategy.Name() == name {
			return u.health, true
		}
	}
	return Healthy, false
}

// DegradedCount returns how many units are degraded
func (h *Host) DegradedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, u := range h.units {
		if u.health == Degraded {
			n++
		}
	}
	return n
}

// Dispatch feeds one event plus the instrument snapshot to every healthy
// unit and collects emitted signals in unit completion order. Signals
// from distinct units carry no cross-unit ordering guarantee beyond
// that.
func (h *Host) Dispatch(ev core.MarketEvent, snapshot core.InstrumentState) []core.Signal {
	// Health is only ever read or written under h.mu; lanes dispatch
	// concurrently, so the degraded filter must happen inside the lock.
	h.mu.RLock()
	units := make([]*unit, 0, len(h.units))
	for _, u := range h.units {
		if u.health == Degraded {
			continue
		}
		units = append(units, u)
	}
	h.mu.RUnlock()

	var signals []core.Signal
	for _, u := range units {
		sig := h.dispatchOne(u, ev, snapshot)
		if sig != nil {
			sig.Strategy = u.strategy.Name()
			signals = append(signals, *sig)
			telemetry.GetGlobalMetrics().AddSignalEmitted(context.Background(), sig.Strategy)
		}
	}
	return signals
}

// dispatchOne invokes the matching capability of a single unit,
// isolating panics.
func (h *Host) dispatchOne(u *unit, ev core.MarketEvent, snapshot core.InstrumentState) (sig *core.Signal) {
	defer func() {
		if r := recover(); r != nil {
			h.degrade(u, r)
			sig = nil
		}
	}()

	switch ev.Type {
	case core.EventTrade:
		if th, ok := u.strategy.(TradeHandler); ok {
			return th.OnTrade(*ev.Trade, snapshot)
		}
	case core.EventQuote:
		if qh, ok := u.strategy.(QuoteHandler); ok {
			return qh.OnQuote(*ev.Quote, snapshot)
		}
	case core.EventBar:
		if bh, ok := u.strategy.(BarHandler); ok {
			return bh.OnBar(*ev.Bar, snapshot)
		}
	}
	return nil
}

func (h *Host) degrade(u *unit, cause interface{}) {
	h.mu.Lock()
	u.health = Degraded
	u.lastErr = cause
	degraded := 0
	for _, other := range h.units {
		if other.health == Degraded {
			degraded++
		}
	}
	h.mu.Unlock()

	telemetry.GetGlobalMetrics().SetDegradedStrategies(int64(degraded))
	h.logger.Error("Strategy panicked, marking degraded",
		"strategy", u.strategy.Name(),
		"panic", cause)
}
