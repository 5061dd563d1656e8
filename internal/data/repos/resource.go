package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type ResourceRepo interface {
	Create(dbc dbctx.Context, resource *types.Resource) (*types.Resource, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Resource, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Resource, error)
	ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Resource, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type resourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResourceRepo(db *gorm.DB, baseLog *logger.Logger) ResourceRepo {
	return &resourceRepo{
		db:  db,
		log: baseLog.With("repo", "ResourceRepo"),
	}
}

func (r *resourceRepo) Create(dbc dbctx.Context, resource *types.Resource) (*types.Resource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(resource).Error; err != nil {
		return nil, err
	}
	return resource, nil
}

func (r *resourceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Resource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var resource types.Resource
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&resource).Error
	if err != nil {
		return nil, err
	}
	if resource.ID == uuid.Nil {
		return nil, nil
	}
	return &resource, nil
}

func (r *resourceRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Resource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Resource
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resourceRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Resource, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Resource
	if sessionID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resourceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Resource{}).
		Where("id = ?", id).
		Updates(updates).Error
}
