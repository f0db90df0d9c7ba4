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

// RequirementLocator resolves the id carried on a task to a requirement
// profile. Callers hold either the target's id or, for older rows, the
// profile row id itself, so resolution is an explicit ordered list of named
// strategies with first-success short-circuit.
type RequirementLocator interface {
	FetchByID(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error)
}

type profileFetchStrategy struct {
	name  string
	fetch func(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error)
}

type requirementLocator struct {
	db         *gorm.DB
	log        *logger.Logger
	strategies []profileFetchStrategy
}

func NewRequirementLocator(db *gorm.DB, baseLog *logger.Logger, repo repos.RequirementProfileRepo) RequirementLocator {
	return &requirementLocator{
		db:  db,
		log: baseLog.With("service", "RequirementLocator"),
		strategies: []profileFetchStrategy{
			{
				name: "by_target_id",
				fetch: func(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error) {
					return repo.GetByTargetID(ctx, nil, id)
				},
			},
			{
				name: "by_profile_id",
				fetch: func(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error) {
					return repo.GetByID(ctx, nil, id)
				},
			},
		},
	}
}

func (l *requirementLocator) FetchByID(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("requirement profile id is required")
	}
	for _, strategy := range l.strategies {
		profile, err := strategy.fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("requirement lookup %s: %w", strategy.name, err)
		}
		if profile != nil {
			l.log.Debug("Requirement profile resolved", "strategy", strategy.name, "id", id)
			return profile, nil
		}
	}
	return nil, fmt.Errorf("no requirement profile found for id %s", id)
}
