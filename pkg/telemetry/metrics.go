package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsProcessedTotal = "engine_events_processed_total"
	MetricEventsStaleTotal     = "engine_events_stale_total"
	MetricEventsMalformedTotal = "engine_events_malformed_total"
	MetricSignalsEmittedTotal  = "engine_signals_emitted_total"
	MetricOrdersApprovedTotal  = "engine_orders_approved_total"
	MetricOrdersRejectedTotal  = "engine_orders_rejected_total"
	MetricFillsAppliedTotal    = "engine_fills_applied_total"
	MetricFillsDuplicateTotal  = "engine_fills_duplicate_total"
	MetricLossLimitTripsTotal  = "engine_loss_limit_trips_total"
	MetricPositionSize         = "engine_position_size"
	MetricPnLRealizedTotal     = "engine_pnl_realized"
	MetricStrategiesDegraded   = "engine_strategies_degraded"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsProcessedTotal metric.Int64Counter
	EventsStaleTotal     metric.Int64Counter
	EventsMalformedTotal metric.Int64Counter
	SignalsEmittedTotal  metric.Int64Counter
	OrdersApprovedTotal  metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	FillsAppliedTotal    metric.Int64Counter
	FillsDuplicateTotal  metric.Int64Counter
	LossLimitTripsTotal  metric.Int64Counter
	PositionSize         metric.Float64ObservableGauge
	PnLRealized          metric.Float64ObservableGauge
	StrategiesDegraded   metric.Int64ObservableGauge

	initialized bool

	// State for observable gauges
	mu              sync.RWMutex
	positionSizeMap map[string]float64
	realizedPnLMap  map[string]float64
	degradedCount   int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionSizeMap: make(map[string]float64),
			realizedPnLMap:  make(map[string]float64),
		}
		// Instrument initialization happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsProcessedTotal, err = meter.Int64Counter(MetricEventsProcessedTotal, metric.WithDescription("Market events applied to the state store"))
	if err != nil {
		return err
	}

	m.EventsStaleTotal, err = meter.Int64Counter(MetricEventsStaleTotal, metric.WithDescription("Market events rejected as stale"))
	if err != nil {
		return err
	}

	m.EventsMalformedTotal, err = meter.Int64Counter(MetricEventsMalformedTotal, metric.WithDescription("Raw messages dropped by the normalizer"))
	if err != nil {
		return err
	}

	m.SignalsEmittedTotal, err = meter.Int64Counter(MetricSignalsEmittedTotal, metric.WithDescription("Signals emitted by strategies"))
	if err != nil {
		return err
	}

	m.OrdersApprovedTotal, err = meter.Int64Counter(MetricOrdersApprovedTotal, metric.WithDescription("Orders approved by the risk gate"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Orders rejected by the risk gate, labeled by rule"))
	if err != nil {
		return err
	}

	m.FillsAppliedTotal, err = meter.Int64Counter(MetricFillsAppliedTotal, metric.WithDescription("Fills applied to the position ledger"))
	if err != nil {
		return err
	}

	m.FillsDuplicateTotal, err = meter.Int64Counter(MetricFillsDuplicateTotal, metric.WithDescription("Duplicate or late fills discarded"))
	if err != nil {
		return err
	}

	m.LossLimitTripsTotal, err = meter.Int64Counter(MetricLossLimitTripsTotal, metric.WithDescription("Daily loss limit latch trips"))
	if err != nil {
		return err
	}

	// Observables
	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current signed position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for inst, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("instrument", inst)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PnLRealized, err = meter.Float64ObservableGauge(MetricPnLRealizedTotal, metric.WithDescription("Realized PnL per instrument"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for inst, val := range m.realizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("instrument", inst)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.StrategiesDegraded, err = meter.Int64ObservableGauge(MetricStrategiesDegraded, metric.WithDescription("Number of strategies marked degraded"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.degradedCount)
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Counter helpers. All are safe to call before InitMetrics; updates are
// simply dropped until instruments exist.

func (m *MetricsHolder) AddEventProcessed(ctx context.Context, eventType string) {
	if !m.ready() {
		return
	}
	m.EventsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *MetricsHolder) AddEventStale(ctx context.Context, instrument string) {
	if !m.ready() {
		return
	}
	m.EventsStaleTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

func (m *MetricsHolder) AddEventMalformed(ctx context.Context, source string) {
	if !m.ready() {
		return
	}
	m.EventsMalformedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *MetricsHolder) AddSignalEmitted(ctx context.Context, strategy string) {
	if !m.ready() {
		return
	}
	m.SignalsEmittedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (m *MetricsHolder) AddOrderApproved(ctx context.Context, instrument string) {
	if !m.ready() {
		return
	}
	m.OrdersApprovedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

func (m *MetricsHolder) AddOrderRejected(ctx context.Context, rule string) {
	if !m.ready() {
		return
	}
	m.OrdersRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (m *MetricsHolder) AddFillApplied(ctx context.Context, instrument string) {
	if !m.ready() {
		return
	}
	m.FillsAppliedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

func (m *MetricsHolder) AddFillDuplicate(ctx context.Context, instrument string) {
	if !m.ready() {
		return
	}
	m.FillsDuplicateTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

func (m *MetricsHolder) AddLossLimitTrip(ctx context.Context) {
	if !m.ready() {
		return
	}
	m.LossLimitTripsTotal.Add(ctx, 1)
}

// Helpers to update observable state

func (m *MetricsHolder) SetPositionSize(instrument string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[instrument] = size
}

func (m *MetricsHolder) SetRealizedPnL(instrument string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realizedPnLMap[instrument] = pnl
}

func (m *MetricsHolder) SetDegradedStrategies(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradedCount = count
}
