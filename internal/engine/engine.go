// Package engine wires the processing pipeline: raw feed messages are
// normalized, routed to per-instrument lanes, applied to the market
// store, dispatched to strategies, risk-checked and submitted for
// execution. Events for one instrument are processed in arrival order;
// distinct instruments proceed independently.
package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"trading_engine/internal/core"
	"trading_engine/internal/ledger"
	"trading_engine/internal/marketstate"
	"trading_engine/internal/normalizer"
	"trading_engine/internal/order"
	"trading_engine/internal/risk"
	"trading_engine/internal/strategy"
	"trading_engine/pkg/concurrency"
	apperrors "trading_engine/pkg/errors"
	"trading_engine/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// Config controls engine concurrency
type Config struct {
	// Partitions is the number of event-routing lanes. Events for one
	// instrument always land on the same lane.
	Partitions int
	// QueueSize is the buffered capacity of each lane
	QueueSize int
	// SubmitWorkers is the size of the order-submission pool
	SubmitWorkers int
}

// Engine is the top-level event pipeline
type Engine struct {
	cfg        Config
	normalizer *normalizer.Normalizer
	store      *marketstate.Store
	host       *strategy.Host
	gate       *risk.Gate
	orders     *order.Manager
	book       *ledger.Ledger
	submitPool *concurrency.WorkerPool
	logger     core.ILogger

	lanes  []chan core.MarketEvent
	group  *errgroup.Group
	cancel context.CancelFunc

	// stopMu lets Stop close the lanes without racing in-flight sends
	stopMu  sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New assembles an engine from its components
func New(cfg Config, n *normalizer.Normalizer, store *marketstate.Store, host *strategy.Host,
	gate *risk.Gate, orders *order.Manager, book *ledger.Ledger, logger core.ILogger) *Engine {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SubmitWorkers <= 0 {
		cfg.SubmitWorkers = 4
	}
	return &Engine{
		cfg:        cfg,
		normalizer: n,
		store:      store,
		host:       host,
		gate:       gate,
		orders:     orders,
		book:       book,
		logger:     logger.WithField("component", "engine"),
	}
}

// Start launches the lane workers and the submission pool. Safe to call
// once.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.group, ctx = errgroup.WithContext(ctx)

		e.submitPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "order_submit",
			MaxWorkers:  e.cfg.SubmitWorkers,
			MaxCapacity: e.cfg.QueueSize,
		}, e.logger)

		e.lanes = make([]chan core.MarketEvent, e.cfg.Partitions)
		for i := range e.lanes {
			lane := make(chan core.MarketEvent, e.cfg.QueueSize)
			e.lanes[i] = lane
			e.group.Go(func() error {
				e.runLane(ctx, lane)
				return nil
			})
		}

		e.logger.Info("Engine started",
			"partitions", e.cfg.Partitions,
			"queue_size", e.cfg.QueueSize)
	})
}

// Stop drains the lanes and shuts the workers down. HandleRawMessage
// fails with ErrEngineStopped afterwards.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopMu.Lock()
		e.stopped = true
		for _, lane := range e.lanes {
			close(lane)
		}
		e.stopMu.Unlock()
		if e.group != nil {
			_ = e.group.Wait()
		}
		if e.cancel != nil {
			e.cancel()
		}
		if e.submitPool != nil {
			e.submitPool.Stop()
		}
		e.logger.Info("Engine stopped",
			"events_applied", e.store.AppliedCount(),
			"events_stale", e.store.StaleCount())
	})
}

// HandleRawMessage normalizes a raw feed payload and enqueues the event
// on the lane owned by its instrument. Malformed payloads are counted
// and dropped here; they never reach the store. Enqueueing blocks when
// the lane is full: backpressure, never reordering or silent drops.
func (e *Engine) HandleRawMessage(source string, raw []byte) error {
	ev, err := e.normalizer.Normalize(source, raw)
	if err != nil {
		telemetry.GetGlobalMetrics().AddEventMalformed(context.Background(), source)
		e.logger.Warn("Dropping malformed message", "source", source, "error", err)
		return err
	}

	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped || e.lanes == nil {
		return apperrors.ErrEngineStopped
	}
	e.lanes[e.laneFor(ev.Instrument())] <- ev
	return nil
}

// laneFor maps an instrument to its lane by FNV hash
func (e *Engine) laneFor(instrument string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instrument))
	return int(h.Sum32()) % len(e.lanes)
}

func (e *Engine) runLane(ctx context.Context, lane chan core.MarketEvent) {
	for ev := range lane {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.process(ctx, ev)
	}
}

// process runs the full per-event path on the lane goroutine. Because
// one instrument always maps to one lane, store updates, strategy
// dispatch and risk validation for that instrument are serialized and
// every strategy sees a store that already reflects the event it is
// reacting to.
func (e *Engine) process(ctx context.Context, ev core.MarketEvent) {
	if err := e.store.Apply(ev); err != nil {
		if errors.Is(err, apperrors.ErrStaleEvent) {
			e.logger.Debug("Stale event rejected", "instrument", ev.Instrument(), "error", err)
		} else {
			e.logger.Warn("Store apply failed", "instrument", ev.Instrument(), "error", err)
		}
		return
	}

	snapshot, _ := e.store.Snapshot(ev.Instrument())
	signals := e.host.Dispatch(ev, snapshot)
	for _, sig := range signals {
		e.routeSignal(ctx, sig)
	}
}

// routeSignal risk-checks one signal on the lane goroutine and, if
// approved, hands submission to the pool so a slow gateway cannot stall
// event processing. The risk decision itself stays on the lane: checks
// for one instrument run one at a time against a ledger snapshot no
// older than the last approved order.
func (e *Engine) routeSignal(ctx context.Context, sig core.Signal) {
	if err := e.gate.Validate(sig, e.book.Snapshot()); err != nil {
		var v *risk.Violation
		if errors.As(err, &v) {
			e.logger.Info("Signal rejected by risk gate",
				"strategy", sig.Strategy,
				"instrument", sig.Instrument,
				"rule", string(v.Rule),
				"detail", v.Detail)
		}
		return
	}

	if err := e.submitPool.Submit(func() {
		if _, err := e.orders.Submit(ctx, sig); err != nil {
			e.logger.Error("Order submission failed",
				"strategy", sig.Strategy,
				"instrument", sig.Instrument,
				"error", err)
		}
	}); err != nil {
		e.logger.Error("Submission pool refused task", "error", err)
	}
}
