package agent

import "errors"

// Sentinel errors. Run wraps ErrTransportPermanent around a failed model
// call and returns it; the sub-agent delegate reports ErrDepthExceeded's
// message inside an "Error: ..." tool result. ErrBudgetExhausted and
// ErrRoundLimitReached are not returned by any code in this package: a run
// that reaches its round cap returns a result with Finished false.
var (
	ErrTransportPermanent = errors.New("agent: permanent transport error")
	ErrDepthExceeded      = errors.New("agent: sub-agent depth limit exceeded")
	ErrBudgetExhausted    = errors.New("agent: sub-agent token budget exhausted")
	ErrRoundLimitReached  = errors.New("agent: round limit reached without natural termination")
)
