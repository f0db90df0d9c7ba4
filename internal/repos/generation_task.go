package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

// TaskCounts is the per-status breakdown of a job's tasks.
type TaskCounts struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Cancelled  int
}

func (c TaskCounts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed + c.Cancelled
}

func (c TaskCounts) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled
}

type GenerationTaskRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.GenerationTask) ([]*types.GenerationTask, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationTask, error)
	ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.GenerationTask, error)

	// GetActiveByPair returns the pending or in_progress task for a
	// (subject, target) pair, if any. The partial unique index guarantees
	// there is at most one.
	GetActiveByPair(ctx context.Context, tx *gorm.DB, subjectID, targetID uuid.UUID) (*types.GenerationTask, error)

	// ClaimNextPending picks the oldest pending task and marks it
	// in_progress (SKIP LOCKED + conditional update). Returns nil when the
	// queue is empty.
	ClaimNextPending(ctx context.Context, tx *gorm.DB) (*types.GenerationTask, error)

	// The transition methods are conditional on the task still being
	// in_progress; they return false when another actor moved it first.
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error)
	Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error)

	// ReclaimStale requeues in_progress tasks whose started_at is older than
	// the timeout, incrementing retry_count; tasks already at maxRetries go
	// straight to failed so a crashing task converges instead of looping.
	ReclaimStale(ctx context.Context, tx *gorm.DB, staleAfter time.Duration, maxRetries int) (requeued int64, failed int64, err error)

	// CancelPending cancels all still-pending tasks of a job.
	CancelPending(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error)

	CountsForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (TaskCounts, error)

	// CountsForTaskIDs covers tasks a job adopted from earlier jobs through
	// the idempotency guard; those rows keep their original job_id.
	CountsForTaskIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (TaskCounts, error)
}

type generationTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationTaskRepo(db *gorm.DB, baseLog *logger.Logger) GenerationTaskRepo {
	return &generationTaskRepo{db: db, log: baseLog.With("repo", "GenerationTaskRepo")}
}

func (r *generationTaskRepo) CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.GenerationTask) ([]*types.GenerationTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.GenerationTask{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *generationTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task types.GenerationTask
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *generationTaskRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.GenerationTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GenerationTask
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationTaskRepo) GetActiveByPair(ctx context.Context, tx *gorm.DB, subjectID, targetID uuid.UUID) (*types.GenerationTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if subjectID == uuid.Nil || targetID == uuid.Nil {
		return nil, nil
	}
	var task types.GenerationTask
	err := transaction.WithContext(ctx).
		Where("subject_id = ? AND target_id = ? AND status IN ?", subjectID, targetID, types.ActiveTaskStatuses).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *generationTaskRepo) ClaimNextPending(ctx context.Context, tx *gorm.DB) (*types.GenerationTask, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.GenerationTask
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.GenerationTask
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.TaskStatusPending).
			Order("created_at ASC").
			First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.GenerationTask{}).
			Where("id = ? AND status = ?", task.ID, types.TaskStatusPending).
			Updates(map[string]interface{}{
				"status":     types.TaskStatusInProgress,
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race despite the lock; treat as empty queue this tick.
			return nil
		}
		task.Status = types.TaskStatusInProgress
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationTaskRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentID uuid.UUID) (bool, error) {
	return r.transition(ctx, tx, id, types.TaskStatusInProgress, map[string]interface{}{
		"status":       types.TaskStatusCompleted,
		"content_id":   contentID,
		"completed_at": time.Now(),
	})
}

func (r *generationTaskRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error) {
	now := time.Now()
	return r.transition(ctx, tx, id, types.TaskStatusInProgress, map[string]interface{}{
		"status":        types.TaskStatusFailed,
		"last_error":    taskErr,
		"last_error_at": now,
		"completed_at":  now,
	})
}

func (r *generationTaskRepo) Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error) {
	return r.transition(ctx, tx, id, types.TaskStatusInProgress, map[string]interface{}{
		"status":        types.TaskStatusPending,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    taskErr,
		"last_error_at": time.Now(),
		"started_at":    nil,
	})
}

func (r *generationTaskRepo) transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationTaskRepo) ReclaimStale(ctx context.Context, tx *gorm.DB, staleAfter time.Duration, maxRetries int) (int64, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	cutoff := now.Add(-staleAfter)

	failRes := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ? AND retry_count >= ?",
			types.TaskStatusInProgress, cutoff, maxRetries).
		Updates(map[string]interface{}{
			"status":        types.TaskStatusFailed,
			"last_error":    "stale in_progress task exceeded retry budget",
			"last_error_at": now,
			"completed_at":  now,
			"updated_at":    now,
		})
	if failRes.Error != nil {
		return 0, 0, failRes.Error
	}

	requeueRes := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ? AND retry_count < ?",
			types.TaskStatusInProgress, cutoff, maxRetries).
		Updates(map[string]interface{}{
			"status":        types.TaskStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    "reclaimed stale in_progress task",
			"last_error_at": now,
			"started_at":    nil,
			"updated_at":    now,
		})
	if requeueRes.Error != nil {
		return 0, failRes.RowsAffected, requeueRes.Error
	}
	return requeueRes.RowsAffected, failRes.RowsAffected, nil
}

func (r *generationTaskRepo) CancelPending(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return 0, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Where("job_id = ? AND status = ?", jobID, types.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":       types.TaskStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *generationTaskRepo) CountsForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (TaskCounts, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counts TaskCounts
	if jobID == uuid.Nil {
		return counts, nil
	}
	var rows []statusCountRow
	err := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Select("status, count(*) AS n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}
	return tallyStatusRows(rows), nil
}

func (r *generationTaskRepo) CountsForTaskIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (TaskCounts, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counts TaskCounts
	if len(ids) == 0 {
		return counts, nil
	}
	var rows []statusCountRow
	err := transaction.WithContext(ctx).
		Model(&types.GenerationTask{}).
		Select("status, count(*) AS n").
		Where("id IN ?", ids).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}
	return tallyStatusRows(rows), nil
}

type statusCountRow struct {
	Status string
	N      int
}

func tallyStatusRows(rows []statusCountRow) TaskCounts {
	var counts TaskCounts
	for _, row := range rows {
		switch row.Status {
		case types.TaskStatusPending:
			counts.Pending = row.N
		case types.TaskStatusInProgress:
			counts.InProgress = row.N
		case types.TaskStatusCompleted:
			counts.Completed = row.N
		case types.TaskStatusFailed:
			counts.Failed = row.N
		case types.TaskStatusCancelled:
			counts.Cancelled = row.N
		}
	}
	return counts
}
