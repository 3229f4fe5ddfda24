package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/lcerda/pushledger/internal/docstore"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_documents",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&docstore.DocumentModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection)`,
					`CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents (collection, (data ->> 'userId'))`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&docstore.DocumentModel{})
			},
		},
	})

	return m.Migrate()
}
