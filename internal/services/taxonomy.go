package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/repos"
	"github.com/pathwise/pathwise-backend/internal/types"
)

// TaxonomyService is the read-only view of the skill taxonomy used by
// normalization and gap analysis. Safe for concurrent use; nothing here
// mutates the tree.
type TaxonomyService interface {
	// FindItemsByName returns item nodes whose folded name or alias matches,
	// optionally restricted to the subtree under scopeNodeID.
	FindItemsByName(ctx context.Context, folded string, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error)
	// ListItems returns candidate item nodes, optionally scoped to a subtree.
	ListItems(ctx context.Context, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error)
	// HierarchyPath returns the node names from the root category down to the
	// given node.
	HierarchyPath(ctx context.Context, id uuid.UUID) ([]string, error)
	// CategoryOf returns the name of the root category above the given item.
	CategoryOf(ctx context.Context, id uuid.UUID) (string, error)
	// ItemMeta resolves name and category for a set of item ids in one pass.
	ItemMeta(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SkillMeta, error)
}

type SkillMeta struct {
	Name     string
	Category string
}

type taxonomyService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.TaxonomyNodeRepo
}

func NewTaxonomyService(db *gorm.DB, baseLog *logger.Logger, repo repos.TaxonomyNodeRepo) TaxonomyService {
	return &taxonomyService{
		db:   db,
		log:  baseLog.With("service", "TaxonomyService"),
		repo: repo,
	}
}

func (s *taxonomyService) FindItemsByName(ctx context.Context, folded string, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	return s.repo.FindItemByFoldedName(ctx, nil, folded, scopeNodeID)
}

func (s *taxonomyService) ListItems(ctx context.Context, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	return s.repo.ListItems(ctx, nil, scopeNodeID)
}

func (s *taxonomyService) HierarchyPath(ctx context.Context, id uuid.UUID) ([]string, error) {
	chain, err := s.repo.PathToRoot(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("taxonomy node %s not found", id)
	}
	names := make([]string, 0, len(chain))
	for _, node := range chain {
		names = append(names, node.Name)
	}
	return names, nil
}

func (s *taxonomyService) CategoryOf(ctx context.Context, id uuid.UUID) (string, error) {
	chain, err := s.repo.PathToRoot(ctx, nil, id)
	if err != nil {
		return "", err
	}
	if len(chain) == 0 {
		return "", fmt.Errorf("taxonomy node %s not found", id)
	}
	return chain[0].Name, nil
}

func (s *taxonomyService) ItemMeta(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SkillMeta, error) {
	out := make(map[uuid.UUID]SkillMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	nodes, err := s.repo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		category, err := s.CategoryOf(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		out[node.ID] = SkillMeta{Name: node.Name, Category: category}
	}
	return out, nil
}
