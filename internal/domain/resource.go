package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

/*
Resource is one uploaded study material belonging to a session. Type
decides which indexing phase picks the resource up: foundational types
(syllabus, textbook, lecture notes) are indexed sequentially before
everything else. The split is always computed from Type, never stored.
*/
type Resource struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Title               string         `gorm:"column:title;not null" json:"title"`
	Type                string         `gorm:"column:type;not null;index" json:"type"`
	TextContent         string         `gorm:"column:text_content" json:"-"`
	Metadata            datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	MetadataExtractedAt *time.Time     `gorm:"column:metadata_extracted_at" json:"metadata_extracted_at,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
}

func (Resource) TableName() string { return "resource" }

func (r *Resource) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
