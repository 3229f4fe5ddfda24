package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// DocumentModel is the gorm row backing documents. Data and Ledger are
// JSONB columns; Version backs optimistic concurrency.
type DocumentModel struct {
	Collection string `gorm:"primaryKey;type:varchar(128)"`
	ID         string `gorm:"primaryKey;column:id;type:varchar(128)"`
	Data       []byte `gorm:"type:jsonb;not null;default:'{}'"`
	Ledger     []byte `gorm:"type:jsonb;not null;default:'{}'"`
	Version    int64  `gorm:"not null;default:1"`
	CreatedAt  sql.NullTime
	UpdatedAt  sql.NullTime
}

func (DocumentModel) TableName() string { return "documents" }

// Postgres implements Store on a gorm connection. Transactions run at
// serializable isolation; serialization failures and deadlocks are
// reported as ErrContention so the retry wrapper can re-run them.
type Postgres struct {
	db *gorm.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, ref Ref) (*Document, error) {
	return getDocument(p.db.WithContext(ctx), ref)
}

func (p *Postgres) Create(ctx context.Context, doc *Document) error {
	return createDocument(p.db.WithContext(ctx), doc)
}

func (p *Postgres) Update(ctx context.Context, doc *Document) error {
	return updateDocument(p.db.WithContext(ctx), doc)
}

func (p *Postgres) Delete(ctx context.Context, ref Ref) error {
	result := p.db.WithContext(ctx).
		Where("collection = ? AND id = ?", ref.Collection, ref.ID).
		Delete(&DocumentModel{})
	// Deleting an absent document is success.
	return translatePGError(result.Error)
}

func (p *Postgres) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	query := p.db.WithContext(ctx).
		Model(&DocumentModel{}).
		Where("collection = ?", collection)
	for _, f := range filters {
		query = query.Where("data ->> ? = ?", f.Field, fmt.Sprint(f.Value))
	}

	var models []DocumentModel
	if err := query.Order("id").Find(&models).Error; err != nil {
		return nil, translatePGError(err)
	}

	docs := make([]*Document, 0, len(models))
	for i := range models {
		doc, err := modelToDocument(&models[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Postgres) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := p.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&pgTx{db: gtx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return translatePGError(err)
}

func (p *Postgres) MarkLedgerAbandoned(ctx context.Context, ref Ref, eventName string) error {
	result := p.db.WithContext(ctx).Exec(
		`UPDATE documents
		 SET ledger = jsonb_set(
		       COALESCE(ledger, '{}'::jsonb),
		       ARRAY[?],
		       COALESCE(ledger -> ?, '{"retries":0,"maxRetries":0}'::jsonb) || '{"maxRetriesReached":true}'::jsonb
		     ),
		     version = version + 1,
		     updated_at = now()
		 WHERE collection = ? AND id = ?`,
		eventName, eventName, ref.Collection, ref.ID,
	)
	if result.Error != nil {
		return translatePGError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ClearLedgerEventID(ctx context.Context, ref Ref, eventName string) error {
	// Only touch rows that already carry an entry for the event: resetting
	// an unrecorded event must not plant a zero-valued entry whose retry
	// budget is already spent.
	result := p.db.WithContext(ctx).Exec(
		`UPDATE documents
		 SET ledger = jsonb_set(ledger, ARRAY[?], (ledger -> ?) - 'eventId'),
		     version = version + 1,
		     updated_at = now()
		 WHERE collection = ? AND id = ?
		   AND jsonb_exists(COALESCE(ledger, '{}'::jsonb), ?)`,
		eventName, eventName, ref.Collection, ref.ID, eventName,
	)
	if result.Error != nil {
		return translatePGError(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := p.db.WithContext(ctx).Model(&DocumentModel{}).
			Where("collection = ? AND id = ?", ref.Collection, ref.ID).
			Count(&count).Error; err != nil {
			return translatePGError(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		// Document exists but the event was never recorded: nothing to
		// reset.
	}
	return nil
}

type pgTx struct {
	db *gorm.DB
}

func (t *pgTx) Get(ref Ref) (*Document, error) {
	return getDocument(t.db, ref)
}

func (t *pgTx) Create(doc *Document) error {
	return createDocument(t.db, doc)
}

func (t *pgTx) Update(doc *Document) error {
	return updateDocument(t.db, doc)
}

func getDocument(db *gorm.DB, ref Ref) (*Document, error) {
	var model DocumentModel
	err := db.Where("collection = ? AND id = ?", ref.Collection, ref.ID).First(&model).Error
	if err != nil {
		return nil, translatePGError(err)
	}
	return modelToDocument(&model)
}

func createDocument(db *gorm.DB, doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}

	model, err := documentToModel(doc)
	if err != nil {
		return err
	}
	if err := db.Exec(
		`INSERT INTO documents (collection, id, data, ledger, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, now(), now())`,
		model.Collection, model.ID, model.Data, model.Ledger,
	).Error; err != nil {
		return translatePGError(err)
	}

	doc.Version = 1
	return nil
}

func updateDocument(db *gorm.DB, doc *Document) error {
	if doc == nil || doc.Ref.IsZero() {
		return ErrNotFound
	}

	model, err := documentToModel(doc)
	if err != nil {
		return err
	}

	result := db.Exec(
		`UPDATE documents
		 SET data = ?, ledger = ?, version = version + 1, updated_at = now()
		 WHERE collection = ? AND id = ? AND version = ?`,
		model.Data, model.Ledger, model.Collection, model.ID, doc.Version,
	)
	if result.Error != nil {
		return translatePGError(result.Error)
	}
	if result.RowsAffected == 0 {
		// The row either moved under us or is gone.
		var count int64
		if err := db.Model(&DocumentModel{}).
			Where("collection = ? AND id = ?", model.Collection, model.ID).
			Count(&count).Error; err != nil {
			return translatePGError(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrContention
	}

	doc.Version++
	return nil
}

func modelToDocument(model *DocumentModel) (*Document, error) {
	doc := &Document{
		Ref:     Ref{Collection: model.Collection, ID: model.ID},
		Version: model.Version,
	}
	if model.CreatedAt.Valid {
		doc.CreatedAt = model.CreatedAt.Time
	}
	if model.UpdatedAt.Valid {
		doc.UpdatedAt = model.UpdatedAt.Time
	}

	if len(model.Data) > 0 {
		if err := json.Unmarshal(model.Data, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode document data for %s: %w", doc.Ref, err)
		}
	}
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}

	if len(model.Ledger) > 0 {
		if err := json.Unmarshal(model.Ledger, &doc.Ledger); err != nil {
			return nil, fmt.Errorf("failed to decode document ledger for %s: %w", doc.Ref, err)
		}
	}
	if doc.Ledger == nil {
		doc.Ledger = make(map[string]LedgerEntry)
	}
	return doc, nil
}

func documentToModel(doc *Document) (*DocumentModel, error) {
	data := doc.Data
	if data == nil {
		data = map[string]any{}
	}
	ledger := doc.Ledger
	if ledger == nil {
		ledger = map[string]LedgerEntry{}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document data for %s: %w", doc.Ref, err)
	}
	ledgerJSON, err := json.Marshal(ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document ledger for %s: %w", doc.Ref, err)
	}

	return &DocumentModel{
		Collection: doc.Ref.Collection,
		ID:         doc.Ref.ID,
		Data:       dataJSON,
		Ledger:     ledgerJSON,
		Version:    doc.Version,
	}, nil
}

func translatePGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", ErrExists, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || pgErr.Code == "57P03":
			return fmt.Errorf("%w: %s", ErrUnavailable, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "XX"):
			return fmt.Errorf("%w: %s", ErrInternal, pgErr.Message)
		}
	}
	return err
}
