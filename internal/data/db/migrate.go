package db

import (
	types "github.com/gong8/cramkit-sub000/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Sessions + materials
		&types.StudySession{},
		&types.Resource{},

		// Indexing pipeline
		&types.IndexBatch{},
		&types.IndexJob{},
	)
}
