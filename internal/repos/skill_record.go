package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type SkillRecordRepo interface {
	ListBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.SkillRecord, error)
	ListBySubjects(ctx context.Context, tx *gorm.DB, subjectIDs []uuid.UUID) ([]*types.SkillRecord, error)
}

type skillRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSkillRecordRepo(db *gorm.DB, baseLog *logger.Logger) SkillRecordRepo {
	return &skillRecordRepo{db: db, log: baseLog.With("repo", "SkillRecordRepo")}
}

func (r *skillRecordRepo) ListBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.SkillRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SkillRecord
	if subjectID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *skillRecordRepo) ListBySubjects(ctx context.Context, tx *gorm.DB, subjectIDs []uuid.UUID) ([]*types.SkillRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.SkillRecord
	if len(subjectIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("subject_id IN ?", subjectIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
