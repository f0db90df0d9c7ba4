package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GeneratedContent is the persisted output of one completed generation task.
// Completed content stays valid even if its job is later cancelled.
type GeneratedContent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TaskID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"task_id"`
	SubjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"subject_id"`
	TargetID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"target_id"`
	Title     string         `gorm:"column:title" json:"title"`
	Body      datatypes.JSON `gorm:"type:jsonb;column:body" json:"body"`
	Model     string         `gorm:"column:model" json:"model"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (GeneratedContent) TableName() string { return "generated_content" }
