// Package normalizer converts heterogeneous raw market messages into the
// unified internal event type. It is a pure transform: no shared state,
// and a failed message never halts the stream.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"trading_engine/internal/core"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies normalization failures
type ErrorKind int

const (
	// KindMalformedPayload means required fields are missing or of the wrong type
	KindMalformedPayload ErrorKind = iota
	// KindInvalidValue means a field parsed but violates a sanity bound
	KindInvalidValue
)

// String returns the string representation of an error kind
func (k ErrorKind) String() string {
	if k == KindInvalidValue {
		return "invalid_value"
	}
	return "malformed_payload"
}

// NormalizationError reports why a raw message was dropped
type NormalizationError struct {
	Source string
	Kind   ErrorKind
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed (%s) source=%s field=%s: %s", e.Kind, e.Source, e.Field, e.Reason)
}

func malformed(source, field, reason string) error {
	return &NormalizationError{Source: source, Kind: KindMalformedPayload, Field: field, Reason: reason}
}

func invalid(source, field, reason string) error {
	return &NormalizationError{Source: source, Kind: KindInvalidValue, Field: field, Reason: reason}
}

// envelope is the wire format shared by all feed adapters: a type tag
// plus the variant payload, flattened.
type envelope struct {
	Type        string          `json:"type"`
	Instrument  string          `json:"instrument"`
	Venue       string          `json:"venue"`
	Price       json.Number     `json:"price"`
	Size        json.Number     `json:"size"`
	Bid         json.Number     `json:"bid"`
	Ask         json.Number     `json:"ask"`
	BidSize     json.Number     `json:"bid_size"`
	AskSize     json.Number     `json:"ask_size"`
	Open        json.Number     `json:"open"`
	High        json.Number     `json:"high"`
	Low         json.Number     `json:"low"`
	Close       json.Number     `json:"close"`
	Volume      json.Number     `json:"volume"`
	Timestamp   json.RawMessage `json:"ts"`
	PeriodStart json.RawMessage `json:"period_start"`
	PeriodEnd   json.RawMessage `json:"period_end"`
}

// Normalizer parses raw feed messages into core.MarketEvent
type Normalizer struct{}

// New creates a normalizer
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw message from a source into a MarketEvent.
// Errors are always *NormalizationError.
func (n *Normalizer) Normalize(source string, raw []byte) (core.MarketEvent, error) {
	var env envelope
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return core.MarketEvent{}, malformed(source, "", err.Error())
	}

	if env.Instrument == "" {
		return core.MarketEvent{}, malformed(source, "instrument", "missing")
	}

	switch env.Type {
	case "trade":
		return n.normalizeTrade(source, env)
	case "quote":
		return n.normalizeQuote(source, env)
	case "bar":
		return n.normalizeBar(source, env)
	case "":
		return core.MarketEvent{}, malformed(source, "type", "missing")
	default:
		return core.MarketEvent{}, malformed(source, "type", "unknown type "+env.Type)
	}
}

func (n *Normalizer) normalizeTrade(source string, env envelope) (core.MarketEvent, error) {
	price, err := parsePositive(source, "price", env.Price)
	if err != nil {
		return core.MarketEvent{}, err
	}
	size, err := parsePositive(source, "size", env.Size)
	if err != nil {
		return core.MarketEvent{}, err
	}
	ts, err := parseTimestamp(source, "ts", env.Timestamp)
	if err != nil {
		return core.MarketEvent{}, err
	}

	return core.MarketEvent{
		Type:   core.EventTrade,
		Source: source,
		Trade: &core.Trade{
			Instrument: env.Instrument,
			Price:      price,
			Size:       size,
			Timestamp:  ts,
			Venue:      env.Venue,
		},
	}, nil
}

func (n *Normalizer) normalizeQuote(source string, env envelope) (core.MarketEvent, error) {
	bid, err := parsePositive(source, "bid", env.Bid)
	if err != nil {
		return core.MarketEvent{}, err
	}
	ask, err := parsePositive(source, "ask", env.Ask)
	if err != nil {
		return core.MarketEvent{}, err
	}
	bidSize, err := parseNonNegative(source, "bid_size", env.BidSize)
	if err != nil {
		return core.MarketEvent{}, err
	}
	askSize, err := parseNonNegative(source, "ask_size", env.AskSize)
	if err != nil {
		return core.MarketEvent{}, err
	}
	ts, err := parseTimestamp(source, "ts", env.Timestamp)
	if err != nil {
		return core.MarketEvent{}, err
	}
	if ask.LessThan(bid) {
		return core.MarketEvent{}, invalid(source, "ask", "crossed quote: ask < bid")
	}

	return core.MarketEvent{
		Type:   core.EventQuote,
		Source: source,
		Quote: &core.Quote{
			Instrument: env.Instrument,
			Bid:        bid,
			Ask:        ask,
			BidSize:    bidSize,
			AskSize:    askSize,
			Timestamp:  ts,
		},
	}, nil
}

func (n *Normalizer) normalizeBar(source string, env envelope) (core.MarketEvent, error) {
	open, err := parsePositive(source, "open", env.Open)
	if err != nil {
		return core.MarketEvent{}, err
	}
	high, err := parsePositive(source, "high", env.High)
	if err != nil {
		return core.MarketEvent{}, err
	}
	low, err := parsePositive(source, "low", env.Low)
	if err != nil {
		return core.MarketEvent{}, err
	}
	closePx, err := parsePositive(source, "close", env.Close)
	if err != nil {
		return core.MarketEvent{}, err
	}
	volume, err := parseNonNegative(source, "volume", env.Volume)
	if err != nil {
		return core.MarketEvent{}, err
	}
	start, err := parseTimestamp(source, "period_start", env.PeriodStart)
	if err != nil {
		return core.MarketEvent{}, err
	}
	end, err := parseTimestamp(source, "period_end", env.PeriodEnd)
	if err != nil {
		return core.MarketEvent{}, err
	}
	if end.Before(start) {
		return core.MarketEvent{}, invalid(source, "period_end", "bar period ends before it starts")
	}
	if high.LessThan(low) {
		return core.MarketEvent{}, invalid(source, "high", "high < low")
	}

	return core.MarketEvent{
		Type:   core.EventBar,
		Source: source,
		Bar: &core.Bar{
			Instrument:  env.Instrument,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePx,
			Volume:      volume,
			PeriodStart: start,
			PeriodEnd:   end,
		},
	}, nil
}

func parseDecimal(source, field string, num json.Number) (decimal.Decimal, error) {
	if num.String() == "" {
		return decimal.Zero, malformed(source, field, "missing")
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, malformed(source, field, "not a number: "+num.String())
	}
	return d, nil
}

func parsePositive(source, field string, num json.Number) (decimal.Decimal, error) {
	d, err := parseDecimal(source, field, num)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, invalid(source, field, "must be > 0, got "+d.String())
	}
	return d, nil
}

func parseNonNegative(source, field string, num json.Number) (decimal.Decimal, error) {
	d, err := parseDecimal(source, field, num)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, invalid(source, field, "must be >= 0, got "+d.String())
	}
	return d, nil
}

// parseTimestamp accepts RFC3339 strings or integer epoch milliseconds
func parseTimestamp(source, field string, raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, malformed(source, field, "missing")
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		ts, perr := time.Parse(time.RFC3339Nano, asString)
		if perr != nil {
			return time.Time{}, invalid(source, field, "unparsable timestamp: "+asString)
		}
		return ts, nil
	}

	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, malformed(source, field, "neither RFC3339 nor epoch millis")
	}
	if millis <= 0 {
		return time.Time{}, invalid(source, field, "non-positive epoch timestamp")
	}
	return time.UnixMilli(millis).UTC(), nil
}
