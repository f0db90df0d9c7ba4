package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type RequirementProfileRepo interface {
	GetByTargetID(ctx context.Context, tx *gorm.DB, targetID uuid.UUID) (*types.RequirementProfile, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RequirementProfile, error)
}

type requirementProfileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRequirementProfileRepo(db *gorm.DB, baseLog *logger.Logger) RequirementProfileRepo {
	return &requirementProfileRepo{db: db, log: baseLog.With("repo", "RequirementProfileRepo")}
}

func (r *requirementProfileRepo) GetByTargetID(ctx context.Context, tx *gorm.DB, targetID uuid.UUID) (*types.RequirementProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if targetID == uuid.Nil {
		return nil, nil
	}
	var profile types.RequirementProfile
	err := transaction.WithContext(ctx).
		Preload("Entries").
		Where("target_id = ?", targetID).
		Limit(1).
		Find(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == uuid.Nil {
		return nil, nil
	}
	return &profile, nil
}

func (r *requirementProfileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RequirementProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var profile types.RequirementProfile
	err := transaction.WithContext(ctx).
		Preload("Entries").
		Where("id = ?", id).
		Limit(1).
		Find(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == uuid.Nil {
		return nil, nil
	}
	return &profile, nil
}
