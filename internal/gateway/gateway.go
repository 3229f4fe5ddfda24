// Package gateway defines the push delivery port: one multicast send per
// batch, returning a per-token result whose failure reason distinguishes
// permanently invalid endpoints from everything else.
package gateway

import (
	"context"
	"fmt"
)

// Reason is the machine-readable cause of a per-token send failure.
type Reason string

const (
	// ReasonUnregistered marks a token the provider no longer knows.
	ReasonUnregistered Reason = "unregistered"
	// ReasonInvalidToken marks a malformed endpoint token.
	ReasonInvalidToken Reason = "invalid-token"
	// ReasonUnavailable marks a temporary provider-side outage.
	ReasonUnavailable Reason = "unavailable"
	// ReasonInternal marks a provider-internal failure.
	ReasonInternal Reason = "internal"
	// ReasonUnknown marks an unrecognized provider error.
	ReasonUnknown Reason = "unknown"
)

// SendError is a per-token delivery failure.
type SendError struct {
	Reason  Reason
	Message string
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("push send failed: %s", e.Reason)
	}
	return fmt.Sprintf("push send failed: %s: %s", e.Reason, e.Message)
}

func (e *SendError) Code() string { return string(e.Reason) }

// PermanentlyInvalid reports whether the endpoint token should be
// removed from the recipient registry.
func (e *SendError) PermanentlyInvalid() bool {
	return e.Reason == ReasonUnregistered || e.Reason == ReasonInvalidToken
}

// Message is one push payload: a visible notification plus opaque
// key-value data.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// SendResult is the outcome for a single endpoint token.
type SendResult struct {
	MessageID string
	Err       error
}

// BatchResponse carries one SendResult per token, in token order.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Results      []SendResult
}

// Gateway is the outbound push delivery port.
type Gateway interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResponse, error)
}
