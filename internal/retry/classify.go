// Package retry re-invokes idempotent units of work on transient
// failure, bounded by a retry budget. Actions and store transactions
// share one error-classification vocabulary.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/lcerda/pushledger/internal/docstore"
)

// Classification buckets an error for retry purposes.
type Classification int

const (
	// Unknown marks errors lacking any recognized structure. They are
	// never retried: retrying what cannot be classified is unsafe.
	Unknown Classification = iota
	// Transient marks errors expected to resolve on retry.
	Transient
	// Terminal marks structured errors that must not be retried.
	Terminal
)

func (c Classification) String() string {
	switch c {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ErrRetry is the explicit caller-supplied retry sentinel: wrap it (or
// return it) to force the wrapper to treat a failure as transient.
var ErrRetry = errors.New("retry")

// TransientError marks a failure as retryable. A non-zero Delay
// overrides the policy delay for the next attempt.
type TransientError struct {
	Delay time.Duration
	Err   error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient error"
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Classify maps an error to its retry classification. Transient covers
// backend-internal and unavailable conditions, transaction contention,
// and the explicit retry sentinel. Structured errors carrying a
// machine-readable code are terminal; everything else is unknown. The
// function is pure and performs no I/O.
func Classify(err error) Classification {
	if err == nil {
		return Unknown
	}

	var transient *TransientError
	switch {
	case errors.Is(err, ErrRetry),
		errors.As(err, &transient),
		errors.Is(err, docstore.ErrContention),
		errors.Is(err, docstore.ErrUnavailable),
		errors.Is(err, docstore.ErrInternal):
		return Transient
	}

	if _, ok := errorCode(err); ok {
		return Terminal
	}
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrExists) {
		return Terminal
	}

	return Unknown
}

// errorCode walks the unwrap chain looking for a structured error code.
func errorCode(err error) (string, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if coder, ok := e.(interface{ Code() string }); ok {
			return coder.Code(), true
		}
	}
	return "", false
}

// delayOverride returns an error-supplied delay for the next attempt.
func delayOverride(err error) (time.Duration, bool) {
	var transient *TransientError
	if errors.As(err, &transient) && transient.Delay > 0 {
		return transient.Delay, true
	}
	return 0, false
}
