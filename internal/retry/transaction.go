package retry

import (
	"context"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
)

// DoTransaction runs fn inside a store transaction, re-running the whole
// transaction on transient failures under the same policy contract as
// Do. Write conflicts (docstore.ErrContention) are transient here, so a
// contended transaction converges on a single winner. The transaction
// function must stay free of side effects outside its read/write set:
// the store may also re-run it internally on conflict.
func DoTransaction(ctx context.Context, logger *zap.Logger, store docstore.Store, fn func(tx docstore.Tx) error, policy Policy) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("operation", "transaction"))

	_, err := Do(ctx, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, store.RunTransaction(ctx, fn)
	}, policy)
	return err
}
