package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type IndexBatchRepo interface {
	Create(dbc dbctx.Context, batch *types.IndexBatch) (*types.IndexBatch, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IndexBatch, error)
	GetRunningBySession(dbc dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error)
	GetLatestBySession(dbc dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error)
	ListByStatus(dbc dbctx.Context, status string) ([]*types.IndexBatch, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	IncrementCompleted(dbc dbctx.Context, id uuid.UUID) error
	IncrementFailed(dbc dbctx.Context, id uuid.UUID) error
	DecrementFailed(dbc dbctx.Context, id uuid.UUID, by int) error
	SetPhaseStatus(dbc dbctx.Context, id uuid.UUID, phase int, blob datatypes.JSON) error
}

type indexBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIndexBatchRepo(db *gorm.DB, baseLog *logger.Logger) IndexBatchRepo {
	return &indexBatchRepo{
		db:  db,
		log: baseLog.With("repo", "IndexBatchRepo"),
	}
}

func (r *indexBatchRepo) Create(dbc dbctx.Context, batch *types.IndexBatch) (*types.IndexBatch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *indexBatchRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IndexBatch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var batch types.IndexBatch
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == uuid.Nil {
		return nil, nil
	}
	return &batch, nil
}

func (r *indexBatchRepo) GetRunningBySession(dbc dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil, nil
	}
	var batch types.IndexBatch
	err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ? AND status = ?", sessionID, types.BatchStatusRunning).
		Order("created_at DESC").
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == uuid.Nil {
		return nil, nil
	}
	return &batch, nil
}

func (r *indexBatchRepo) GetLatestBySession(dbc dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil, nil
	}
	var batch types.IndexBatch
	err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == uuid.Nil {
		return nil, nil
	}
	return &batch, nil
}

func (r *indexBatchRepo) ListByStatus(dbc dbctx.Context, status string) ([]*types.IndexBatch, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.IndexBatch
	if status == "" {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *indexBatchRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.IndexBatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *indexBatchRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
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
		Model(&types.IndexBatch{}).
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

func (r *indexBatchRepo) IncrementCompleted(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"completed": gorm.Expr("completed + 1"),
	})
}

func (r *indexBatchRepo) IncrementFailed(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"failed": gorm.Expr("failed + 1"),
	})
}

func (r *indexBatchRepo) DecrementFailed(dbc dbctx.Context, id uuid.UUID, by int) error {
	if by <= 0 {
		return nil
	}
	// Clamped at zero; works on both postgres and sqlite.
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"failed": gorm.Expr("CASE WHEN failed >= ? THEN failed - ? ELSE 0 END", by, by),
	})
}

func (r *indexBatchRepo) SetPhaseStatus(dbc dbctx.Context, id uuid.UUID, phase int, blob datatypes.JSON) error {
	column, ok := phaseStatusColumn(phase)
	if !ok {
		return fmt.Errorf("no persisted status column for phase %d", phase)
	}
	return r.UpdateFields(dbc, id, map[string]interface{}{
		column: blob,
	})
}

func phaseStatusColumn(phase int) (string, bool) {
	switch phase {
	case 3:
		return "phase3_status", true
	case 4:
		return "phase4_status", true
	case 5:
		return "phase5_status", true
	}
	return "", false
}
