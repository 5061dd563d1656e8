package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusCancelled = "cancelled"
)

/*
IndexBatch is one indexing run covering a set of resources for a
session. Total/Completed/Failed count per-resource jobs; the three
phase-status columns persist the crosslink, cleanup, and metadata
phase outcomes so progress survives a restart.

Status only moves forward: pending -> running -> completed|cancelled.
completed+failed never exceeds total.
*/
type IndexBatch struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Total        int            `gorm:"column:total;not null;default:0" json:"total"`
	Completed    int            `gorm:"column:completed;not null;default:0" json:"completed"`
	Failed       int            `gorm:"column:failed;not null;default:0" json:"failed"`
	Thoroughness string         `gorm:"column:thoroughness" json:"thoroughness,omitempty"`
	Phase3Status datatypes.JSON `gorm:"column:phase3_status;type:jsonb" json:"phase3_status,omitempty"`
	Phase4Status datatypes.JSON `gorm:"column:phase4_status;type:jsonb" json:"phase4_status,omitempty"`
	Phase5Status datatypes.JSON `gorm:"column:phase5_status;type:jsonb" json:"phase5_status,omitempty"`
	StartedAt    *time.Time     `gorm:"column:started_at;index" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (IndexBatch) TableName() string { return "index_batch" }

func (b *IndexBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
