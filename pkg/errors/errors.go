package apperrors

import "errors"

// Standardized engine errors
var (
	// ErrStaleEvent marks a market event whose timestamp is older than
	// state already applied for the same instrument and field.
	ErrStaleEvent = errors.New("stale market event")

	// ErrUnknownInstrument is returned for reads of instruments the
	// store has never seen.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrUnknownOrder is returned for lifecycle events referencing an
	// order id the engine never assigned.
	ErrUnknownOrder = errors.New("order not found")

	// ErrOrderAlreadyTerminal marks a duplicate or late lifecycle event
	// for an order already in a terminal state.
	ErrOrderAlreadyTerminal = errors.New("order already terminal")

	// ErrInvalidTransition marks an order state transition the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrInvalidFill marks a fill with non-positive quantity or one that
	// would overfill the order.
	ErrInvalidFill = errors.New("invalid fill")

	// ErrDailyLossLimitBreached latches the risk gate shut for the
	// remainder of the session; cleared only by operator reset.
	ErrDailyLossLimitBreached = errors.New("daily loss limit breached")

	// ErrExecutionGateway marks a transport or broker failure at the
	// execution gateway boundary.
	ErrExecutionGateway = errors.New("execution gateway error")

	// ErrGatewayUnavailable marks a transient gateway failure. Safe to
	// retry: submissions are idempotent by client order id.
	ErrGatewayUnavailable = errors.New("execution gateway unavailable")

	// ErrEngineStopped is returned when work is submitted to a stopped
	// pipeline.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrLedgerCorrupted marks a poisoned ledger invariant (e.g. nonzero
	// quantity with undefined entry price). Fatal: the single-writer
	// discipline was broken.
	ErrLedgerCorrupted = errors.New("position ledger invariant violated")
)
