package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and local development.
// Transactions use optimistic validation: reads record the document
// version they observed and commit fails with ErrContention when a
// concurrent commit moved any of them, which mirrors the conflict
// semantics the Postgres implementation surfaces.
type Memory struct {
	mu   sync.Mutex
	docs map[Ref]*Document
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[Ref]*Document),
		now:  time.Now,
	}
}

// SetClock overrides the timestamp source. Tests only.
func (m *Memory) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Memory) Get(_ context.Context, ref Ref) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) Create(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(doc)
}

func (m *Memory) Update(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(doc)
}

func (m *Memory) Delete(_ context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, ref)
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*Document
	for ref, doc := range m.docs {
		if ref.Collection != collection {
			continue
		}
		if matchesFilters(doc, filters) {
			results = append(results, doc.Clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Ref.ID < results[j].Ref.ID
	})
	return results, nil
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:  m,
		reads:  make(map[Ref]int64),
		writes: make(map[Ref]memWrite),
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) MarkLedgerAbandoned(_ context.Context, ref Ref, eventName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[ref]
	if !ok {
		return ErrNotFound
	}

	entry := doc.Ledger[eventName]
	entry.MaxRetriesReached = true
	m.setLedgerLocked(doc, eventName, entry)
	return nil
}

func (m *Memory) ClearLedgerEventID(_ context.Context, ref Ref, eventName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[ref]
	if !ok {
		return ErrNotFound
	}

	// Nothing to reset when the event was never recorded; writing a
	// zero-valued entry here would give the event a spent retry budget.
	entry, ok := doc.Ledger[eventName]
	if !ok {
		return nil
	}
	entry.EventID = ""
	m.setLedgerLocked(doc, eventName, entry)
	return nil
}

func (m *Memory) setLedgerLocked(doc *Document, eventName string, entry LedgerEntry) {
	if doc.Ledger == nil {
		doc.Ledger = make(map[string]LedgerEntry)
	}
	doc.Ledger[eventName] = entry
	doc.Version++
	doc.UpdatedAt = m.now()
}

func (m *Memory) createLocked(doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}
	if _, ok := m.docs[doc.Ref]; ok {
		return ErrExists
	}

	stored := doc.Clone()
	stored.Version = 1
	stored.CreatedAt = m.now()
	stored.UpdatedAt = stored.CreatedAt
	m.docs[doc.Ref] = stored

	doc.Version = stored.Version
	doc.CreatedAt = stored.CreatedAt
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *Memory) updateLocked(doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}

	current, ok := m.docs[doc.Ref]
	if !ok {
		return ErrNotFound
	}
	if doc.Version != current.Version {
		return ErrContention
	}

	stored := doc.Clone()
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = m.now()
	m.docs[doc.Ref] = stored

	doc.Version = stored.Version
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

type memWriteOp int

const (
	memWriteCreate memWriteOp = iota
	memWriteUpdate
)

type memWrite struct {
	op  memWriteOp
	doc *Document
}

type memTx struct {
	store  *Memory
	reads  map[Ref]int64
	writes map[Ref]memWrite
}

func (t *memTx) Get(ref Ref) (*Document, error) {
	if pending, ok := t.writes[ref]; ok {
		return pending.doc.Clone(), nil
	}

	t.store.mu.Lock()
	doc, ok := t.store.docs[ref]
	if !ok {
		t.store.mu.Unlock()
		t.reads[ref] = 0
		return nil, ErrNotFound
	}
	clone := doc.Clone()
	t.store.mu.Unlock()

	t.reads[ref] = clone.Version
	return clone, nil
}

func (t *memTx) Create(doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}
	if _, ok := t.writes[doc.Ref]; ok {
		return ErrExists
	}

	// Record that the document must still be absent at commit time.
	if _, read := t.reads[doc.Ref]; !read {
		t.reads[doc.Ref] = 0
	}
	t.writes[doc.Ref] = memWrite{op: memWriteCreate, doc: doc.Clone()}
	return nil
}

func (t *memTx) Update(doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}
	t.writes[doc.Ref] = memWrite{op: memWriteUpdate, doc: doc.Clone()}
	return nil
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// Validate every observed version before applying anything.
	for ref, version := range t.reads {
		current, ok := t.store.docs[ref]
		if !ok {
			if version != 0 {
				return ErrContention
			}
			continue
		}
		if current.Version != version {
			return ErrContention
		}
	}

	for ref, write := range t.writes {
		switch write.op {
		case memWriteCreate:
			if _, ok := t.store.docs[ref]; ok {
				return ErrContention
			}
			if err := t.store.createLocked(write.doc); err != nil {
				return err
			}
		case memWriteUpdate:
			current, ok := t.store.docs[ref]
			if !ok {
				return ErrNotFound
			}
			write.doc.Version = current.Version
			if err := t.store.updateLocked(write.doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesFilters(doc *Document, filters []Filter) bool {
	for _, f := range filters {
		value, ok := doc.Data[f.Field]
		if !ok || value != f.Value {
			return false
		}
	}
	return true
}
