// Package registry maps user identities to their registered push
// endpoint tokens, stored as documents keyed by the token itself.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/retry"
)

// Collection is the docstore collection holding token documents.
const Collection = "fcm-tokens"

const userIDField = "userId"

// TokenRegistry reads and prunes recipient endpoint tokens. Writes go
// through the retriable action wrapper so transient store failures do
// not surface to callers.
type TokenRegistry struct {
	store  docstore.Store
	logger *zap.Logger
	policy retry.Policy
}

func New(store docstore.Store, policy retry.Policy, logger *zap.Logger) (*TokenRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenRegistry{
		store:  store,
		logger: logger,
		policy: policy,
	}, nil
}

// Register stores a token for a user. Registering an already known
// token is success.
func (r *TokenRegistry) Register(ctx context.Context, userID string, token string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is required")
	}

	_, err := retry.Do(ctx, r.logger, func(ctx context.Context) (struct{}, error) {
		err := r.store.Create(ctx, &docstore.Document{
			Ref:  docstore.Ref{Collection: Collection, ID: token},
			Data: map[string]any{userIDField: userID},
		})
		if errors.Is(err, docstore.ErrExists) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, r.policy)
	return err
}

// ListByUser returns every endpoint token registered for the user.
func (r *TokenRegistry) ListByUser(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	docs, err := r.store.Query(ctx, Collection, docstore.Filter{Field: userIDField, Value: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens for user %s: %w", userID, err)
	}

	tokens := make([]string, 0, len(docs))
	for _, doc := range docs {
		tokens = append(tokens, doc.Ref.ID)
	}
	return tokens, nil
}

// Delete removes a token. Deleting an absent token is success, so
// concurrent pruning of the same token stays race-free.
func (r *TokenRegistry) Delete(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is required")
	}

	_, err := retry.Do(ctx, r.logger, func(ctx context.Context) (struct{}, error) {
		err := r.store.Delete(ctx, docstore.Ref{Collection: Collection, ID: token})
		if errors.Is(err, docstore.ErrNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, r.policy)
	return err
}
