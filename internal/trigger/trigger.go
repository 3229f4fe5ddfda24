// Package trigger dispatches at-least-once document write deliveries to
// business handlers, running each delivery through the dedup ledger and
// compensating the ledger when a handler fails so redelivery counts as a
// retry instead of a duplicate.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/ledger"
	"github.com/lcerda/pushledger/internal/mask"
	"github.com/lcerda/pushledger/internal/observability"
)

// Kinds of document writes, derived from the before and after snapshots.
const (
	KindCreate = "on-create"
	KindUpdate = "on-update"
	KindDelete = "on-delete"
)

// Event is one document write delivery. The same EventID may arrive more
// than once; the dispatcher guarantees the handler observes it once.
type Event struct {
	EventID string
	Ref     docstore.Ref
	Before  map[string]any
	After   map[string]any
}

// Kind classifies the write from its snapshots.
func (e Event) Kind() string {
	switch {
	case e.Before == nil && e.After != nil:
		return KindCreate
	case e.Before != nil && e.After != nil:
		return KindUpdate
	case e.Before != nil && e.After == nil:
		return KindDelete
	default:
		return ""
	}
}

// Handler runs the business reaction to a deduplicated create. data is
// the document data after the ledger merged any defaults in.
type Handler func(ctx context.Context, logger *observability.StepLogger, event Event, data map[string]any) error

// Options configures how a dispatcher treats deliveries for its
// collection.
type Options struct {
	// ExtraData is written onto the document on first observation;
	// values already present on the document win.
	ExtraData map[string]any
	// IgnoreIfMissing drops deliveries for documents that no longer
	// exist instead of failing them.
	IgnoreIfMissing bool
	// CreateIfMissing creates the document on first delivery.
	CreateIfMissing bool
	// MaskFields are redacted when the incoming snapshot is logged.
	MaskFields []string
	// MaxRetries caps distinct delivery attempts per document.
	MaxRetries int
}

// Dispatcher routes write deliveries for one collection.
type Dispatcher struct {
	collection string
	store      docstore.Store
	ledger     *ledger.Ledger
	onCreate   Handler
	opts       Options
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewDispatcher(collection string, store docstore.Store, led *ledger.Ledger, onCreate Handler, opts Options, logger *zap.Logger) (*Dispatcher, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		collection: collection,
		store:      store,
		ledger:     led,
		onCreate:   onCreate,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Collection returns the collection this dispatcher serves.
func (d *Dispatcher) Collection() string { return d.collection }

// Dispatch handles one delivery. Returning nil tells the transport the
// delivery is settled; returning an error requests redelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if event.EventID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.Ref.IsZero() {
		return fmt.Errorf("document ref is required")
	}
	kind := event.Kind()
	if kind == "" {
		return fmt.Errorf("event %s carries no snapshots", event.EventID)
	}

	d.metrics.IncDeliveriesInflight()
	defer d.metrics.DecDeliveriesInflight()

	slog := observability.NewStepLogger(d.logger,
		zap.String("collection", event.Ref.Collection),
		zap.String("documentId", event.Ref.ID),
		zap.String("eventId", event.EventID),
		zap.String("event", kind),
	)

	// Only creates carry business handlers for now; other writes are
	// acknowledged untouched.
	if kind != KindCreate {
		slog.Debug("ignoring non-create write", zap.String("eventName", "write-ignored"))
		d.metrics.IncEvent(kind, "ignored")
		return nil
	}

	slog.Info(fmt.Sprintf("document %s created", event.Ref.ID),
		zap.String("eventName", KindCreate),
		zap.Any("documentData", mask.MaskMap(event.After, d.opts.MaskFields)),
	)

	slog.ChangeStep("initial-transaction")
	result, err := d.ledger.CheckIfProcessed(ctx, event.Ref, KindCreate, event.EventID, ledger.Options{
		CreateIfMissing: d.opts.CreateIfMissing,
		ExtraData:       d.opts.ExtraData,
		MaxRetries:      d.opts.MaxRetries,
	})
	if err != nil {
		return d.handleLedgerError(ctx, slog, event, err)
	}

	if result.HasBeenProcessed {
		slog.Debug("create already processed", zap.String("eventName", "on-create-already-processed"))
		d.metrics.IncEventDuplicate(event.Ref.Collection)
		d.metrics.IncEvent(kind, "duplicate")
		return nil
	}

	if d.onCreate != nil {
		handlerStart := d.now()
		err = d.onCreate(ctx, slog, event, result.Data)
		d.metrics.ObserveHandlerDuration(event.Ref.Collection, d.now().Sub(handlerStart))
		if err != nil {
			d.metrics.IncEvent(kind, "failed")
			return d.fail(ctx, slog, event, err)
		}
	}

	d.metrics.IncEvent(kind, "processed")
	return nil
}

func (d *Dispatcher) handleLedgerError(ctx context.Context, slog *observability.StepLogger, event Event, err error) error {
	var notFound *ledger.NotFoundError
	if errors.As(err, &notFound) && d.opts.IgnoreIfMissing {
		slog.Debug(fmt.Sprintf("document %s not found", event.Ref.ID),
			zap.String("eventName", "document-not-found"),
		)
		d.metrics.IncEvent(event.Kind(), "ignored")
		return nil
	}

	var maxRetries *ledger.MaxRetriesError
	if errors.As(err, &maxRetries) {
		slog.Critical(fmt.Sprintf("max retries reached on document %s", event.Ref.ID),
			zap.String("eventName", "max-retries-reached"),
			zap.Int("maxRetries", maxRetries.MaxRetries),
		)
		d.metrics.IncEventAbandoned(event.Ref.Collection)
		d.metrics.IncEvent(event.Kind(), "abandoned")

		// Best effort, outside the aborted transaction. If the ratchet
		// cannot be persisted the delivery fails so the event returns,
		// hits the ceiling again and gets another chance to ratchet.
		if markErr := d.store.MarkLedgerAbandoned(ctx, event.Ref, KindCreate); markErr != nil {
			slog.Critical(fmt.Sprintf("could not persist max retries flag on document %s", event.Ref.ID),
				zap.String("eventName", "error-setting-max-retries-reached"),
				zap.Error(markErr),
			)
			return err
		}
		return nil
	}

	d.metrics.IncEvent(event.Kind(), "failed")
	return d.fail(ctx, slog, event, err)
}

// fail reports an unrecoverable delivery error and clears the recorded
// delivery id so the next redelivery counts as a retry, not a duplicate.
func (d *Dispatcher) fail(ctx context.Context, slog *observability.StepLogger, event Event, cause error) error {
	slog.Error(fmt.Sprintf("unrecoverable error handling create of document %s", event.Ref.ID),
		zap.String("eventName", "unknown-error"),
		zap.Error(cause),
	)

	if clearErr := d.store.ClearLedgerEventID(ctx, event.Ref, KindCreate); clearErr != nil {
		slog.Critical(fmt.Sprintf("could not reverse document %s to its initial state", event.Ref.ID),
			zap.String("eventName", "error-reversing-document-to-initial-state"),
			zap.Error(clearErr),
		)
		return errors.Join(cause, clearErr)
	}
	return cause
}
