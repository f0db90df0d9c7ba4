package types

import (
	"time"

	"github.com/google/uuid"
)

// RequirementProfile is a target's weighted requirement set, owned by the
// role/position collaborator and read-only here.
type RequirementProfile struct {
	ID         uuid.UUID          `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TargetID   uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex" json:"target_id"`
	TargetType string             `gorm:"column:target_type;not null;default:'role'" json:"target_type"`
	Title      string             `gorm:"column:title" json:"title"`
	Entries    []RequirementEntry `gorm:"foreignKey:ProfileID;references:ID" json:"entries"`
	CreatedAt  time.Time          `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time          `gorm:"not null;default:now()" json:"updated_at"`
}

func (RequirementProfile) TableName() string { return "requirement_profile" }

type RequirementEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProfileID      uuid.UUID `gorm:"type:uuid;not null;index:idx_profile_skill,unique" json:"profile_id"`
	SkillID        uuid.UUID `gorm:"type:uuid;not null;index:idx_profile_skill,unique" json:"skill_id"`
	Importance     float64   `gorm:"column:importance;not null;default:0" json:"importance"`
	MinProficiency int       `gorm:"column:min_proficiency;not null;default:0" json:"min_proficiency"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RequirementEntry) TableName() string { return "requirement_entry" }
