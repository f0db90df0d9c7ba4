package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// ActiveTaskStatuses are the statuses covered by the one-active-task-per-
// (subject,target) guard, enforced by a partial unique index.
var ActiveTaskStatuses = []string{TaskStatusPending, TaskStatusInProgress}

// GenerationTask is the unit of generation work for one subject within a job.
// Transitions: pending -> in_progress -> completed|failed, with
// in_progress -> pending on stale reclaim and pending -> cancelled on cancel.
type GenerationTask struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"job_id"`
	SubjectID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"subject_id"`
	TargetID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"target_id"`
	Status      string     `gorm:"column:status;not null;default:'pending';index" json:"status"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	ContentID   *uuid.UUID `gorm:"type:uuid;column:content_id" json:"content_id,omitempty"`
	LastError   string     `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at;index" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (GenerationTask) TableName() string { return "generation_task" }

func (t *GenerationTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
