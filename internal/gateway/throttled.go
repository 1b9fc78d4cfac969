package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
	"trading_engine/internal/core"
	apperrors "trading_engine/pkg/errors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

// Throttled decorates any execution gateway with a token-bucket rate
// limit so the engine never exceeds the broker's request budget, and
// retries transient failures (ErrGatewayUnavailable) with jittered
// exponential backoff. Every attempt takes its own token; permanent
// failures surface immediately as ErrExecutionGateway. Cancels share
// the same bucket as submissions.
type Throttled struct {
	inner    core.IExecutionGateway
	limiter  *rate.Limiter
	executor failsafe.Executor[any]
	logger   core.ILogger
}

// NewThrottled wraps inner with a limit of rps requests per second and
// the given burst.
func NewThrottled(inner core.IExecutionGateway, rps float64, burst int, logger core.ILogger) *Throttled {
	log := logger.WithField("component", "throttled_gateway")

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, apperrors.ErrGatewayUnavailable)
		}).
		WithBackoff(50*time.Millisecond, 2*time.Second).
		WithJitterFactor(0.25).
		WithMaxRetries(3).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.Warn("Gateway unavailable, retrying",
				"attempt", e.Attempts(),
				"error", e.LastError())
		}).
		Build()

	return &Throttled{
		inner:    inner,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		executor: failsafe.With[any](retry),
		logger:   log,
	}
}

// SubmitOrder blocks until a token is available, then delegates.
// Transient broker failures are retried; the order object is unchanged
// across attempts so the broker sees the same client order id.
func (t *Throttled) SubmitOrder(ctx context.Context, order *core.Order) error {
	return t.executor.WithContext(ctx).Run(func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", apperrors.ErrExecutionGateway, err)
		}
		return t.inner.SubmitOrder(ctx, order)
	})
}

// CancelOrder blocks until a token is available, then delegates.
// Retried like submissions; cancel requests are advisory so a repeat
// delivery is harmless.
func (t *Throttled) CancelOrder(ctx context.Context, orderID uint64) error {
	return t.executor.WithContext(ctx).Run(func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", apperrors.ErrExecutionGateway, err)
		}
		return t.inner.CancelOrder(ctx, orderID)
	})
}
