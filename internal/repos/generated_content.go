package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type GeneratedContentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, content *types.GeneratedContent) (*types.GeneratedContent, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GeneratedContent, error)
}

type generatedContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGeneratedContentRepo(db *gorm.DB, baseLog *logger.Logger) GeneratedContentRepo {
	return &generatedContentRepo{db: db, log: baseLog.With("repo", "GeneratedContentRepo")}
}

func (r *generatedContentRepo) Create(ctx context.Context, tx *gorm.DB, content *types.GeneratedContent) (*types.GeneratedContent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if content == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(content).Error; err != nil {
		return nil, err
	}
	return content, nil
}

func (r *generatedContentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GeneratedContent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var content types.GeneratedContent
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&content).Error
	if err != nil {
		return nil, err
	}
	if content.ID == uuid.Nil {
		return nil, nil
	}
	return &content, nil
}
