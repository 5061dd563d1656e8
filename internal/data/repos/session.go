package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, session *types.StudySession) (*types.StudySession, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.StudySession, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) Create(dbc dbctx.Context, session *types.StudySession) (*types.StudySession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.StudySession, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var session types.StudySession
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}
