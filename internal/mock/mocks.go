// Package mock provides test doubles shared across packages
package mock

import (
	"context"
	"sync"
	"trading_engine/internal/core"
)

// Logger is a no-op core.ILogger that records messages for assertions
type Logger struct {
	mu       sync.Mutex
	Messages []string
}

// NewLogger creates a recording no-op logger
func NewLogger() *Logger { return &Logger{} }

func (l *Logger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, msg)
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.record(msg) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.record(msg) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.record(msg) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.record(msg) }
func (l *Logger) Fatal(msg string, fields ...interface{}) { l.record(msg) }

func (l *Logger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *Logger) WithFields(fields map[string]interface{}) core.ILogger { return l }

// Gateway is a scripted core.IExecutionGateway recording every call
type Gateway struct {
	mu        sync.Mutex
	Submitted []core.Order
	Cancelled []uint64
	SubmitErr error
	CancelErr error
}

// NewGateway creates a recording gateway that accepts everything
func NewGateway() *Gateway { return &Gateway{} }

func (g *Gateway) SubmitOrder(_ context.Context, order *core.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SubmitErr != nil {
		return g.SubmitErr
	}
	g.Submitted = append(g.Submitted, *order)
	return nil
}

func (g *Gateway) CancelOrder(_ context.Context, orderID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.Cancelled = append(g.Cancelled, orderID)
	return nil
}

// SubmittedCount returns how many orders reached the gateway
func (g *Gateway) SubmittedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Submitted)
}
