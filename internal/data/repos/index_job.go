package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type IndexJobRepo interface {
	// Create returns ErrDuplicateJob when the batch already has a job
	// for the same resource.
	Create(dbc dbctx.Context, job *types.IndexJob) (*types.IndexJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IndexJob, error)
	ListByBatch(dbc dbctx.Context, batchID uuid.UUID) ([]*types.IndexJob, error)
	ListByBatchAndStatuses(dbc dbctx.Context, batchID uuid.UUID, statuses []string) ([]*types.IndexJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	CancelActiveByBatch(dbc dbctx.Context, batchID uuid.UUID) (int64, error)
	ResetForRetry(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
	DemoteRunningByBatch(dbc dbctx.Context, batchID uuid.UUID) (int64, error)
}

type indexJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIndexJobRepo(db *gorm.DB, baseLog *logger.Logger) IndexJobRepo {
	return &indexJobRepo{
		db:  db,
		log: baseLog.With("repo", "IndexJobRepo"),
	}
}

func (r *indexJobRepo) Create(dbc dbctx.Context, job *types.IndexJob) (*types.IndexJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: resource %s", ErrDuplicateJob, job.ResourceID)
		}
		return nil, err
	}
	return job, nil
}

func (r *indexJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IndexJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.IndexJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *indexJobRepo) ListByBatch(dbc dbctx.Context, batchID uuid.UUID) ([]*types.IndexJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IndexJob
	if batchID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("batch_id = ?", batchID).
		Order("sort_order ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *indexJobRepo) ListByBatchAndStatuses(dbc dbctx.Context, batchID uuid.UUID, statuses []string) ([]*types.IndexJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IndexJob
	if batchID == uuid.Nil || len(statuses) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("batch_id = ? AND status IN ?", batchID, statuses).
		Order("sort_order ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *indexJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.IndexJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *indexJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.IndexJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelActiveByBatch flips every pending/running job in the batch to
// cancelled in one statement.
func (r *indexJobRepo) CancelActiveByBatch(dbc dbctx.Context, batchID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if batchID == uuid.Nil {
		return 0, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.IndexJob{}).
		Where("batch_id = ? AND status IN ?", batchID, []string{types.JobStatusPending, types.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *indexJobRepo) ResetForRetry(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.IndexJob{}).
		Where("id IN ? AND status = ?", ids, types.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":        types.JobStatusPending,
			"error_message": "",
			"error_type":    "",
			"started_at":    nil,
			"completed_at":  nil,
			"duration_ms":   nil,
			"updated_at":    time.Now(),
		})
	return res.RowsAffected, res.Error
}

// DemoteRunningByBatch returns crash-stranded running jobs to pending
// so a resumed batch picks them up again.
func (r *indexJobRepo) DemoteRunningByBatch(dbc dbctx.Context, batchID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if batchID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.IndexJob{}).
		Where("batch_id = ? AND status = ?", batchID, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":     types.JobStatusPending,
			"started_at": nil,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}
