package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDelay      = time.Second
	defaultMaxRetries = 5
)

// Policy bounds one retriable invocation chain. The zero value gets the
// defaults: one second between attempts, five retries.
type Policy struct {
	Delay      time.Duration
	MaxRetries int
	// OnRetry, when set, observes every retry before its sleep.
	OnRetry func(attempt int, err error)

	// sleep is injectable for tests; nil uses a context-aware timer.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.Delay <= 0 {
		p.Delay = defaultDelay
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.sleep == nil {
		p.sleep = sleepWithContext
	}
	return p
}

// BudgetExhaustedError reports a transient failure that survived the
// whole retry budget. The last cause is preserved on the chain.
type BudgetExhaustedError struct {
	Attempts int
	Err      error
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("action failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BudgetExhaustedError) Unwrap() error { return e.Err }

// Code marks the error as structured so a re-classification treats it
// as terminal.
func (e *BudgetExhaustedError) Code() string { return "retry-budget-exhausted" }

// Do invokes action until it succeeds, fails terminally, or exhausts the
// policy budget. Transient failures sleep the policy delay (or an
// error-supplied override) between attempts without blocking other
// invocations. Terminal and unknown errors propagate immediately.
func Do[T any](ctx context.Context, logger *zap.Logger, action func(ctx context.Context) (T, error), policy Policy) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.withDefaults()

	for attempt := 0; ; attempt++ {
		result, err := action(ctx)
		if err == nil {
			return result, nil
		}

		classification := Classify(err)
		switch classification {
		case Transient:
			logger.Warn("transient error in retriable action",
				zap.String("eventName", "error-in-retriable-action"),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt >= policy.MaxRetries {
				return zero, &BudgetExhaustedError{Attempts: attempt + 1, Err: err}
			}
			if policy.OnRetry != nil {
				policy.OnRetry(attempt+1, err)
			}

			delay := policy.Delay
			if override, ok := delayOverride(err); ok {
				delay = override
			}
			if sleepErr := policy.sleep(ctx, delay); sleepErr != nil {
				return zero, sleepErr
			}

		case Terminal:
			code, _ := errorCode(err)
			logger.Warn("terminal error in retriable action",
				zap.String("eventName", "unhandled-error-code"),
				zap.String("code", code),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, err

		default:
			logger.Warn("unclassified error in retriable action",
				zap.String("eventName", "unclassified-error-in-retriable-action"),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
