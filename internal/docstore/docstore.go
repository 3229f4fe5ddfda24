// Package docstore defines the document store boundary: point reads and
// writes by reference, a narrow equality query, and atomic transactions
// with distinguishable contention errors.
package docstore

import (
	"context"
	"time"
)

// Ref identifies a document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

func (r Ref) IsZero() bool {
	return r.Collection == "" || r.ID == ""
}

// LedgerEntry records dedup and retry state for one event name on a
// document. MaxRetriesReached is a monotonic ratchet: once set it is
// never cleared and further deliveries for the event are abandoned.
type LedgerEntry struct {
	EventID           string `json:"eventId,omitempty"`
	Retries           int    `json:"retries"`
	MaxRetries        int    `json:"maxRetries"`
	MaxRetriesReached bool   `json:"maxRetriesReached,omitempty"`
}

// Document is a store-owned record. Data holds the application payload;
// Ledger holds per-event dedup entries keyed by event name. Version and
// the timestamps are managed by the store on write.
type Document struct {
	Ref       Ref
	Data      map[string]any
	Ledger    map[string]LedgerEntry
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can mutate freely.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	clone := *d
	clone.Data = make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		clone.Data[k] = v
	}
	clone.Ledger = make(map[string]LedgerEntry, len(d.Ledger))
	for k, v := range d.Ledger {
		clone.Ledger[k] = v
	}
	return &clone
}

// Filter is an equality predicate against a Data field.
type Filter struct {
	Field string
	Value any
}

// Tx is the atomic read-modify-write handle passed to transaction
// functions. Reads and writes inside one Tx commit atomically; a
// conflicting concurrent commit surfaces as ErrContention from
// RunTransaction. Transaction functions must be safely re-runnable.
type Tx interface {
	Get(ref Ref) (*Document, error)
	Create(doc *Document) error
	Update(doc *Document) error
}

// Store is the document store port.
type Store interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	Create(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	// Delete removes a document; deleting an absent document is success.
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error)
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// MarkLedgerAbandoned sets the MaxRetriesReached ratchet on the named
	// ledger entry with a single point write.
	MarkLedgerAbandoned(ctx context.Context, ref Ref, eventName string) error
	// ClearLedgerEventID resets the recorded delivery id so a future
	// delivery may re-attempt the event. Clearing an event that was
	// never recorded is a no-op; it must not create an entry.
	ClearLedgerEventID(ctx context.Context, ref Ref, eventName string) error
}
