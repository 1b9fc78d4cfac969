// Package marketstate holds the authoritative concurrent view of market
// state, partitioned per instrument so readers and writers of different
// instruments never contend.
package marketstate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"trading_engine/internal/core"
	apperrors "trading_engine/pkg/errors"
	"trading_engine/pkg/telemetry"
)

// partition is the exclusively-owned state of one instrument. Its lock
// covers only this instrument; the store-level lock only guards the
// partition map itself.
type partition struct {
	mu        sync.RWMutex
	lastTrade *core.Trade
	lastQuote *core.Quote
	bars      *barRing
}

// Store is the market state store
type Store struct {
	mu          sync.RWMutex
	partitions  map[string]*partition
	barCapacity int
	logger      core.ILogger

	applied atomic.Int64
	stale   atomic.Int64
}

// NewStore creates a store whose bar history holds barCapacity bars per
// instrument.
func NewStore(barCapacity int, logger core.ILogger) *Store {
	if barCapacity <= 0 {
		barCapacity = 64
	}
	return &Store{
		partitions:  make(map[string]*partition),
		barCapacity: barCapacity,
		logger:      logger.WithField("component", "market_store"),
	}
}

func (s *Store) partitionFor(instrument string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[instrument]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[instrument]; ok {
		return p
	}
	p = &partition{bars: newBarRing(s.barCapacity)}
	s.partitions[instrument] = p
	return p
}

// Apply updates the instrument's state from one normalized event.
// An event strictly older than the stored lastTrade/lastQuote timestamp
// for the same field is rejected as stale: counted, never applied.
func (s *Store) Apply(ev core.MarketEvent) error {
	instrument := ev.Instrument()
	if instrument == "" {
		return fmt.Errorf("%w: event without instrument", apperrors.ErrUnknownInstrument)
	}
	p := s.partitionFor(instrument)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case core.EventTrade:
		if p.lastTrade != nil && ev.Trade.Timestamp.Before(p.lastTrade.Timestamp) {
			return s.rejectStale(instrument, ev)
		}
		t := *ev.Trade
		p.lastTrade = &t
	case core.EventQuote:
		if p.lastQuote != nil && ev.Quote.Timestamp.Before(p.lastQuote.Timestamp) {
			return s.rejectStale(instrument, ev)
		}
		q := *ev.Quote
		p.lastQuote = &q
	case core.EventBar:
		if p.bars.len() > 0 {
			last := p.bars.ordered()[p.bars.len()-1]
			if ev.Bar.PeriodEnd.Before(last.PeriodEnd) {
				return s.rejectStale(instrument, ev)
			}
		}
		p.bars.push(*ev.Bar)
	default:
		return fmt.Errorf("unhandled event type %d", ev.Type)
	}

	s.applied.Add(1)
	telemetry.GetGlobalMetrics().AddEventProcessed(context.Background(), ev.Type.String())
	return nil
}

func (s *Store) rejectStale(instrument string, ev core.MarketEvent) error {
	s.stale.Add(1)
	telemetry.GetGlobalMetrics().AddEventStale(context.Background(), instrument)
	return fmt.Errorf("%w: %s %s ts=%s", apperrors.ErrStaleEvent, instrument, ev.Type, ev.Timestamp().Format("15:04:05.000"))
}

// Snapshot returns a consistent point-in-time copy of the instrument's
// state. The second return is false if the instrument was never seen.
func (s *Store) Snapshot(instrument string) (core.InstrumentState, bool) {
	s.mu.RLock()
	p, ok := s.partitions[instrument]
	s.mu.RUnlock()
	if !ok {
		return core.InstrumentState{Instrument: instrument}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	state := core.InstrumentState{Instrument: instrument}
	if p.lastTrade != nil {
		t := *p.lastTrade
		state.LastTrade = &t
	}
	if p.lastQuote != nil {
		q := *p.lastQuote
		state.LastQuote = &q
	}
	state.RecentBars = p.bars.ordered()
	return state, true
}

// Instruments returns all instruments the store has seen
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partitions))
	for inst := range s.partitions {
		out = append(out, inst)
	}
	return out
}

// AppliedCount returns the number of events applied
func (s *Store) AppliedCount() int64 {
	return s.applied.Load()
}

// StaleCount returns the number of events rejected as stale
func (s *Store) StaleCount() int64 {
	return s.stale.Load()
}
