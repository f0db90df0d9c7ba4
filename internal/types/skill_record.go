package types

import (
	"time"

	"github.com/google/uuid"
)

// SkillRecord is one assessed skill of a subject. Rows are written by the
// profile-assessment collaborators and are read-only inside this service.
type SkillRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SubjectID   uuid.UUID `gorm:"type:uuid;not null;index:idx_subject_skill,unique" json:"subject_id"`
	SkillID     uuid.UUID `gorm:"type:uuid;not null;index:idx_subject_skill,unique" json:"skill_id"`
	Proficiency int       `gorm:"column:proficiency;not null;default:0" json:"proficiency"`
	IsMissing   bool      `gorm:"column:is_missing;not null;default:false" json:"is_missing"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SkillRecord) TableName() string { return "skill_record" }
