package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
	JobStatusFailed    = "failed"
)

/*
IndexJob is one resource's content-indexing unit of work inside a
batch. The (batch_id, resource_id) unique index keeps enqueues
idempotent: asking to index the same resource twice in one batch
cannot produce a second row. Runs are single-attempt; retries are an
explicit caller operation that resets the row to pending.
*/
type IndexJob struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID      uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_index_job_batch_resource" json:"batch_id"`
	ResourceID   uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_index_job_batch_resource" json:"resource_id"`
	Status       string     `gorm:"column:status;not null;index" json:"status"`
	SortOrder    int        `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Thoroughness string     `gorm:"column:thoroughness" json:"thoroughness,omitempty"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorType    string     `gorm:"column:error_type" json:"error_type,omitempty"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMs   *int64     `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

func (IndexJob) TableName() string { return "index_job" }

func (j *IndexJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
