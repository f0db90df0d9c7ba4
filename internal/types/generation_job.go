package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusCreated    = "created"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
)

// GenerationJob is one batch of content-generation work against a single
// target. Its counters are a cache recomputed from the job's task rows;
// task rows are the source of truth.
type GenerationJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GroupID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"group_id"`
	GroupType      string         `gorm:"column:group_type;not null" json:"group_type"`
	Status         string         `gorm:"column:status;not null;default:'created';index" json:"status"`
	TotalCount     int            `gorm:"column:total_count;not null;default:0" json:"total_count"`
	CompletedCount int            `gorm:"column:completed_count;not null;default:0" json:"completed_count"`
	FailedCount    int            `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	CancelledCount int            `gorm:"column:cancelled_count;not null;default:0" json:"cancelled_count"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (GenerationJob) TableName() string { return "generation_job" }
