// Package ledger turns at-least-once trigger deliveries into
// effectively-once handler invocations. Each document carries one ledger
// entry per event name recording the last processed delivery id and a
// bounded retry counter; all reads and writes happen inside one store
// transaction so concurrent duplicate deliveries serialize on the store's
// conflict detection.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/retry"
)

const defaultMaxRetries = 5

// Options tunes one CheckIfProcessed call.
type Options struct {
	// CreateIfMissing creates the target document (with ExtraData and a
	// fresh ledger entry) when it does not exist yet.
	CreateIfMissing bool
	// IgnoreIfMissing treats an absent document as already handled
	// instead of failing with NotFoundError.
	IgnoreIfMissing bool
	// ExtraData is merged into the document; values already present on
	// the document always win.
	ExtraData map[string]any
	// MaxRetries caps distinct delivery attempts for the event. The
	// ceiling is fixed the first time the entry is written; later calls
	// cannot move it.
	MaxRetries int
}

// Result is the outcome of one ledger check.
type Result struct {
	// Data is the document data after the merge.
	Data map[string]any
	// HasBeenProcessed reports the dedup short-circuit: the caller must
	// not run the business handler again.
	HasBeenProcessed bool
}

// NotFoundError reports a ledger check against an absent document.
type NotFoundError struct {
	Ref docstore.Ref
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.Ref)
}

func (e *NotFoundError) Code() string { return "document-not-found" }

// MaxRetriesError reports a document whose retry budget for an event is
// spent. The transaction carrying the check aborts, so the caller is
// responsible for persisting the MaxRetriesReached ratchet afterwards.
type MaxRetriesError struct {
	Ref        docstore.Ref
	EventName  string
	MaxRetries int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("document %s reached its %s max retries of %d", e.Ref, e.EventName, e.MaxRetries)
}

func (e *MaxRetriesError) Code() string { return "max-retries-reached" }

// Ledger checks and advances per-document dedup state.
type Ledger struct {
	store  docstore.Store
	logger *zap.Logger
	policy retry.Policy
}

func New(store docstore.Store, policy retry.Policy, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		store:  store,
		logger: logger,
		policy: policy,
	}, nil
}

// CheckIfProcessed records that eventID has been seen for eventName on
// the referenced document, inside one retriable transaction.
//
// A matching recorded delivery id short-circuits with
// HasBeenProcessed=true. A different delivery id counts as a new attempt:
// ExtraData is merged (existing values win), the retry counter advances,
// and once the counter would pass its ceiling the check fails with
// MaxRetriesError.
func (l *Ledger) CheckIfProcessed(ctx context.Context, ref docstore.Ref, eventName string, eventID string, opts Options) (*Result, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("document ref is required")
	}
	if eventName == "" || eventID == "" {
		return nil, fmt.Errorf("event name and event id are required")
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var result *Result
	err := retry.DoTransaction(ctx, l.logger, l.store, func(tx docstore.Tx) error {
		result = nil

		doc, err := tx.Get(ref)
		if errors.Is(err, docstore.ErrNotFound) {
			return l.checkAbsent(tx, ref, eventName, eventID, opts, maxRetries, &result)
		}
		if err != nil {
			return err
		}

		entry, seen := doc.Ledger[eventName]
		if seen && entry.EventID == eventID {
			// Dedup short-circuit: this exact delivery already advanced
			// the ledger.
			result = &Result{Data: doc.Clone().Data, HasBeenProcessed: true}
			return nil
		}
		if seen && entry.MaxRetriesReached {
			return &MaxRetriesError{Ref: ref, EventName: eventName, MaxRetries: entry.MaxRetries}
		}

		merged := mergeExtraData(doc.Data, opts.ExtraData)

		if !seen || entry.MaxRetries <= 0 {
			// A missing entry, or a zero-valued one left behind by a
			// point write before any attempt committed, starts a fresh
			// budget.
			entry = docstore.LedgerEntry{Retries: 0, MaxRetries: maxRetries}
		} else {
			// The ceiling recorded at first observation stands; the
			// caller's current config does not move it.
			entry.Retries++
		}
		entry.EventID = eventID

		if entry.Retries > entry.MaxRetries {
			return &MaxRetriesError{Ref: ref, EventName: eventName, MaxRetries: entry.MaxRetries}
		}

		updated := doc.Clone()
		updated.Data = merged
		updated.Ledger[eventName] = entry
		if err := tx.Update(updated); err != nil {
			return err
		}

		result = &Result{Data: merged, HasBeenProcessed: false}
		return nil
	}, l.policy)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (l *Ledger) checkAbsent(tx docstore.Tx, ref docstore.Ref, eventName string, eventID string, opts Options, maxRetries int, result **Result) error {
	if opts.CreateIfMissing {
		data := mergeExtraData(nil, opts.ExtraData)
		doc := &docstore.Document{
			Ref:  ref,
			Data: data,
			Ledger: map[string]docstore.LedgerEntry{
				eventName: {EventID: eventID, Retries: 0, MaxRetries: maxRetries},
			},
		}
		if err := tx.Create(doc); err != nil {
			return err
		}
		*result = &Result{Data: data, HasBeenProcessed: false}
		return nil
	}

	if opts.IgnoreIfMissing {
		l.logger.Debug("document missing, treating event as handled",
			zap.String("documentRef", ref.String()),
			zap.String("eventName", eventName),
			zap.String("eventId", eventID),
		)
		*result = &Result{HasBeenProcessed: true}
		return nil
	}

	return &NotFoundError{Ref: ref}
}

// mergeExtraData copies base and fills in extra values that base does
// not already define. Already-observed fields are never overwritten.
func mergeExtraData(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return merged
}
