// Package fanout delivers one logical push notification to every
// endpoint registered for a user and self-heals the recipient registry
// by pruning endpoints the gateway reports as permanently invalid.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lcerda/pushledger/internal/gateway"
	"github.com/lcerda/pushledger/internal/observability"
	"github.com/lcerda/pushledger/internal/ratelimit"
)

// TokenSource is the slice of the recipient registry fan-out needs.
type TokenSource interface {
	ListByUser(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, token string) error
}

// Sender multicasts pushes and prunes dead tokens.
type Sender struct {
	tokens  TokenSource
	gateway gateway.Gateway
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewSender(tokens TokenSource, gw gateway.Gateway, limiter ratelimit.RateLimiter, logger *zap.Logger) (*Sender, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("push gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		tokens:  tokens,
		gateway: gw,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *Sender) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SendPush sends msg to every endpoint registered for userID. A user
// with no registered endpoints is a no-op success. Delivery success is
// independent of registry cleanup success: failed prunes are warnings.
func (s *Sender) SendPush(ctx context.Context, userID string, msg gateway.Message) error {
	tokens, err := s.tokens.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up tokens for user %s: %w", userID, err)
	}
	if len(tokens) == 0 {
		s.logger.Debug("no registered endpoints, skipping push",
			zap.String("eventName", "no-fcm-tokens"),
			zap.String("userId", userID),
		)
		return nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "push"); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	sendStart := s.now()
	response, err := s.gateway.SendMulticast(ctx, tokens, msg)
	s.metrics.ObserveMulticastDuration(s.now().Sub(sendStart))
	if err != nil {
		return fmt.Errorf("multicast send failed for user %s: %w", userID, err)
	}

	invalidTokens := s.handleResults(tokens, response)
	s.pruneTokens(ctx, invalidTokens)
	return nil
}

func (s *Sender) handleResults(tokens []string, response *gateway.BatchResponse) []string {
	var invalidTokens []string
	for i, result := range response.Results {
		if i >= len(tokens) {
			break
		}
		token := tokens[i]

		if result.Err == nil {
			s.logger.Info("push notification sent",
				zap.String("eventName", "push-notification-sent"),
				zap.String("token", token),
				zap.String("messageId", result.MessageID),
			)
			s.metrics.IncPushSent()
			continue
		}

		var sendErr *gateway.SendError
		reason := gateway.ReasonUnknown
		if errors.As(result.Err, &sendErr) {
			reason = sendErr.Reason
		}
		s.logger.Info("push notification failed",
			zap.String("eventName", "failed-push-notification"),
			zap.String("token", token),
			zap.String("code", string(reason)),
			zap.Error(result.Err),
		)
		s.metrics.IncPushFailed(string(reason))

		if sendErr != nil && sendErr.PermanentlyInvalid() {
			invalidTokens = append(invalidTokens, token)
		}
	}
	return invalidTokens
}

func (s *Sender) pruneTokens(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}

	var g errgroup.Group
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			if err := s.tokens.Delete(ctx, token); err != nil {
				return fmt.Errorf("token %s: %w", token, err)
			}
			s.metrics.IncTokensPruned()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("failed to remove invalid endpoint tokens",
			zap.String("eventName", "token-remove-failed"),
			zap.Int("tokens", len(tokens)),
			zap.Error(err),
		)
	}
}
