// Package core defines the shared types and interfaces of the trading engine
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger is the interface for structured logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IMarketStore is the read surface of the market state store
type IMarketStore interface {
	Snapshot(instrument string) (InstrumentState, bool)
	Instruments() []string
}

// IExecutionGateway is the broker adapter boundary. Submit and cancel
// are asynchronous: results come back through the IOrderEvents
// callbacks, never through the return value.
type IExecutionGateway interface {
	SubmitOrder(ctx context.Context, order *Order) error
	CancelOrder(ctx context.Context, orderID uint64) error
}

// IOrderEvents is the callback surface the gateway drives. The order
// lifecycle manager implements it.
type IOrderEvents interface {
	OnFill(orderID uint64, filledQty, price decimal.Decimal) error
	OnReject(orderID uint64, reason string) error
	OnCancelConfirmed(orderID uint64) error
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
