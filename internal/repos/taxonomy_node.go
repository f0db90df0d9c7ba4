package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type TaxonomyNodeRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaxonomyNode, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.TaxonomyNode, error)
	// FindItemByFoldedName matches item nodes whose folded name or alias list
	// equals the folded label, optionally restricted to a subtree.
	FindItemByFoldedName(ctx context.Context, tx *gorm.DB, folded string, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error)
	// ListItems returns all item nodes, optionally restricted to a subtree.
	ListItems(ctx context.Context, tx *gorm.DB, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error)
	// PathToRoot returns the chain from the root down to the given node.
	PathToRoot(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]*types.TaxonomyNode, error)
}

type taxonomyNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaxonomyNodeRepo(db *gorm.DB, baseLog *logger.Logger) TaxonomyNodeRepo {
	return &taxonomyNodeRepo{db: db, log: baseLog.With("repo", "TaxonomyNodeRepo")}
}

func (r *taxonomyNodeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaxonomyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var node types.TaxonomyNode
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&node).Error
	if err != nil {
		return nil, err
	}
	if node.ID == uuid.Nil {
		return nil, nil
	}
	return &node, nil
}

func (r *taxonomyNodeRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.TaxonomyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TaxonomyNode
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Aliases are stored as written, so comparisons fold them to match the
// already-folded input label.
const aliasMatchSQL = `EXISTS (
		SELECT 1 FROM jsonb_array_elements_text(aliases) AS a
		WHERE lower(btrim(a.value)) = ?
	)`

const taxonomySubtreeCTE = `
	WITH RECURSIVE subtree AS (
		SELECT id FROM skill_taxonomy_node WHERE id = ?
		UNION ALL
		SELECT n.id FROM skill_taxonomy_node n
		JOIN subtree s ON n.parent_id = s.id
	)
`

func (r *taxonomyNodeRepo) FindItemByFoldedName(ctx context.Context, tx *gorm.DB, folded string, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TaxonomyNode
	if folded == "" {
		return out, nil
	}
	if scopeNodeID == nil {
		err := transaction.WithContext(ctx).
			Where("level = ?", types.TaxonomyLevelItem).
			Where("name_folded = ? OR "+aliasMatchSQL, folded, folded).
			Find(&out).Error
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	err := transaction.WithContext(ctx).Raw(taxonomySubtreeCTE+`
		SELECT * FROM skill_taxonomy_node
		WHERE level = ?
		AND (name_folded = ? OR `+aliasMatchSQL+`)
		AND id IN (SELECT id FROM subtree)
	`, *scopeNodeID, types.TaxonomyLevelItem, folded, folded).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taxonomyNodeRepo) ListItems(ctx context.Context, tx *gorm.DB, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TaxonomyNode
	if scopeNodeID == nil {
		err := transaction.WithContext(ctx).
			Where("level = ?", types.TaxonomyLevelItem).
			Find(&out).Error
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	err := transaction.WithContext(ctx).Raw(taxonomySubtreeCTE+`
		SELECT * FROM skill_taxonomy_node
		WHERE level = ?
		AND id IN (SELECT id FROM subtree)
	`, *scopeNodeID, types.TaxonomyLevelItem).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taxonomyNodeRepo) PathToRoot(ctx context.Context, tx *gorm.DB, id uuid.UUID) ([]*types.TaxonomyNode, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var chain []*types.TaxonomyNode
	err := transaction.WithContext(ctx).Raw(`
		WITH RECURSIVE lineage AS (
			SELECT *, 0 AS depth FROM skill_taxonomy_node WHERE id = ?
			UNION ALL
			SELECT n.*, l.depth + 1 FROM skill_taxonomy_node n
			JOIN lineage l ON n.id = l.parent_id
		)
		SELECT * FROM lineage ORDER BY depth DESC
	`, id).Scan(&chain).Error
	if err != nil {
		return nil, err
	}
	return chain, nil
}
