package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaxonomyLevelCategory    = "category"
	TaxonomyLevelSubcategory = "subcategory"
	TaxonomyLevelGroup       = "group"
	TaxonomyLevelItem        = "item"
)

// TaxonomyNode is one node of the skill taxonomy tree
// (category -> subcategory -> group -> item). Skills are only ever
// normalized to item nodes; item nodes are always leaves.
type TaxonomyNode struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ParentID   *uuid.UUID     `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Level      string         `gorm:"column:level;not null;index" json:"level"`
	Name       string         `gorm:"column:name;not null" json:"name"`
	NameFolded string         `gorm:"column:name_folded;not null;index" json:"name_folded"`
	Aliases    datatypes.JSON `gorm:"type:jsonb;column:aliases" json:"aliases"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (TaxonomyNode) TableName() string { return "skill_taxonomy_node" }

func (n *TaxonomyNode) IsItem() bool { return n.Level == TaxonomyLevelItem }
