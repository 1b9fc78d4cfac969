package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType discriminates the MarketEvent variants
type EventType int

const (
	EventTrade EventType = iota
	EventQuote
	EventBar
)

// String returns the string representation of an event type
func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "trade"
	case EventQuote:
		return "quote"
	case EventBar:
		return "bar"
	default:
		return "unknown"
	}
}

// Trade is a single executed trade reported by a venue
type Trade struct {
	Instrument string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Timestamp  time.Time
	Venue      string
}

// Quote is a best bid/ask update
type Quote struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	BidSize    decimal.Decimal
	AskSize    decimal.Decimal
	Timestamp  time.Time
}

// Bar is an aggregated OHLCV candle for a fixed period
type Bar struct {
	Instrument  string
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// MarketEvent is the unified internal event. Exactly one of Trade,
// Quote, Bar is set, matching Type.
type MarketEvent struct {
	Type   EventType
	Source string
	Trade  *Trade
	Quote  *Quote
	Bar    *Bar
}

// Instrument returns the instrument the event refers to
func (e MarketEvent) Instrument() string {
	switch e.Type {
	case EventTrade:
		return e.Trade.Instrument
	case EventQuote:
		return e.Quote.Instrument
	case EventBar:
		return e.Bar.Instrument
	default:
		return ""
	}
}

// Timestamp returns the event timestamp (PeriodEnd for bars)
func (e MarketEvent) Timestamp() time.Time {
	switch e.Type {
	case EventTrade:
		return e.Trade.Timestamp
	case EventQuote:
		return e.Quote.Timestamp
	case EventBar:
		return e.Bar.PeriodEnd
	default:
		return time.Time{}
	}
}

// InstrumentState is a point-in-time snapshot of one instrument's
// market view. Copies handed out by the store are safe to retain.
type InstrumentState struct {
	Instrument string
	LastTrade  *Trade
	LastQuote  *Quote
	RecentBars []Bar
}

// Side represents the direction of a signal or order
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// String returns the string representation of a side
func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// Sign returns +1 for buys and -1 for sells
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Signal is a strategy's proposed trading action, not yet risk-checked
type Signal struct {
	Instrument string
	Side       Side
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal // nil means marketable
	Strategy   string
}

// OrderState tracks the lifecycle of an order
type OrderState int

const (
	OrderPending OrderState = iota
	OrderSubmitted
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
)

// String returns the string representation of an order state
func (s OrderState) String() string {
	switch s {
	case OrderPending:
		return "PENDING"
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state admits no further transitions
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is an engine-tracked order from creation to terminal state
type Order struct {
	ID            uint64
	ClientOrderID string
	Instrument    string
	Side          Side
	Quantity      decimal.Decimal
	LimitPrice    *decimal.Decimal
	State         OrderState
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RejectReason  string
	CancelPending bool
}

// Fill is a confirmation that some or all of an order's quantity executed
type Fill struct {
	OrderID    uint64
	Instrument string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Timestamp  time.Time
}

// Position is the ledger's view of one instrument
type Position struct {
	Instrument    string
	Quantity      decimal.Decimal // signed: long > 0, short < 0
	AvgEntryPrice decimal.Decimal // undefined (zero) when Quantity is zero
	RealizedPnL   decimal.Decimal
}

// PositionSnapshot is an immutable, internally consistent copy of all
// positions, taken atomically with respect to concurrent fills
type PositionSnapshot struct {
	Positions     map[string]Position
	RealizedTotal decimal.Decimal
	TakenAt       time.Time
}

// Get returns the position for an instrument, zero-valued if flat
func (s PositionSnapshot) Get(instrument string) Position {
	if p, ok := s.Positions[instrument]; ok {
		return p
	}
	return Position{Instrument: instrument}
}

// RiskLimits is the immutable limit configuration consulted by the risk gate
type RiskLimits struct {
	MaxPositionSize      map[string]decimal.Decimal
	DefaultMaxPosition   decimal.Decimal
	MaxPortfolioNotional decimal.Decimal
	DailyLossLimit       decimal.Decimal
}

// MaxPositionFor returns the per-instrument position cap
func (l RiskLimits) MaxPositionFor(instrument string) decimal.Decimal {
	if v, ok := l.MaxPositionSize[instrument]; ok {
		return v
	}
	return l.DefaultMaxPosition
}
