package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/repos"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type GapAnalysisService interface {
	// Analyze is a pure function of its inputs: identical inputs produce
	// byte-identical reports.
	Analyze(subjectID, targetID uuid.UUID, skills []*types.SkillRecord, profile *types.RequirementProfile, meta map[uuid.UUID]SkillMeta) *types.GapReport
	// BuildReport loads the subject's skill rows and the target's requirement
	// profile, then runs Analyze.
	BuildReport(ctx context.Context, subjectID, targetID uuid.UUID) (*types.GapReport, error)
}

type gapAnalysisService struct {
	db          *gorm.DB
	log         *logger.Logger
	skillRepo   repos.SkillRecordRepo
	profileRepo repos.RequirementProfileRepo
	taxonomy    TaxonomyService
}

func NewGapAnalysisService(db *gorm.DB, baseLog *logger.Logger, skillRepo repos.SkillRecordRepo, profileRepo repos.RequirementProfileRepo, taxonomy TaxonomyService) GapAnalysisService {
	return &gapAnalysisService{
		db:          db,
		log:         baseLog.With("service", "GapAnalysisService"),
		skillRepo:   skillRepo,
		profileRepo: profileRepo,
		taxonomy:    taxonomy,
	}
}

func (s *gapAnalysisService) BuildReport(ctx context.Context, subjectID, targetID uuid.UUID) (*types.GapReport, error) {
	skills, err := s.skillRepo.ListBySubject(ctx, nil, subjectID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profileRepo.GetByTargetID(ctx, nil, targetID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("no requirement profile for target %s", targetID)
	}

	ids := make([]uuid.UUID, 0, len(profile.Entries)+len(skills))
	for _, entry := range profile.Entries {
		ids = append(ids, entry.SkillID)
	}
	for _, skill := range skills {
		ids = append(ids, skill.SkillID)
	}
	meta, err := s.taxonomy.ItemMeta(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.Analyze(subjectID, targetID, skills, profile, meta), nil
}

func (s *gapAnalysisService) Analyze(subjectID, targetID uuid.UUID, skills []*types.SkillRecord, profile *types.RequirementProfile, meta map[uuid.UUID]SkillMeta) *types.GapReport {
	report := &types.GapReport{
		SubjectID:          subjectID,
		TargetID:           targetID,
		Categories:         []types.CategoryGap{},
		Gaps:               []types.GapEntry{},
		TransferableSkills: []uuid.UUID{},
	}
	if profile == nil || len(profile.Entries) == 0 {
		// Empty requirement set is a neutral report, not an error.
		return report
	}

	held := make(map[uuid.UUID]*types.SkillRecord, len(skills))
	for _, skill := range skills {
		held[skill.SkillID] = skill
	}

	var weightedGapSum, importanceSum float64
	required := make(map[uuid.UUID]bool, len(profile.Entries))
	for _, entry := range profile.Entries {
		required[entry.SkillID] = true

		gap := 0
		isMissing := false
		record, ok := held[entry.SkillID]
		if !ok || record.IsMissing {
			// Skills assessed as missing count the same as never assessed.
			gap = entry.MinProficiency
			isMissing = true
		} else if record.Proficiency < entry.MinProficiency {
			gap = entry.MinProficiency - record.Proficiency
		}

		weightedGapSum += float64(gap) * entry.Importance
		importanceSum += entry.Importance

		m := meta[entry.SkillID]
		report.Gaps = append(report.Gaps, types.GapEntry{
			SkillID:    entry.SkillID,
			SkillName:  m.Name,
			Category:   m.Category,
			Gap:        gap,
			Importance: entry.Importance,
			IsMissing:  isMissing,
		})
	}
	if importanceSum > 0 {
		report.OverallScore = weightedGapSum / importanceSum
	}

	// Highest gap*importance first; category then skill name then id break
	// ties so equal inputs always order the same way.
	sort.Slice(report.Gaps, func(i, j int) bool {
		a, b := report.Gaps[i], report.Gaps[j]
		pa := float64(a.Gap) * a.Importance
		pb := float64(b.Gap) * b.Importance
		if pa != pb {
			return pa > pb
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.SkillName != b.SkillName {
			return a.SkillName < b.SkillName
		}
		return a.SkillID.String() < b.SkillID.String()
	})

	report.Categories = categoryBreakdown(report.Gaps)

	for skillID, record := range held {
		if required[skillID] || record.IsMissing {
			continue
		}
		report.TransferableSkills = append(report.TransferableSkills, skillID)
	}
	sort.Slice(report.TransferableSkills, func(i, j int) bool {
		return report.TransferableSkills[i].String() < report.TransferableSkills[j].String()
	})

	return report
}

func categoryBreakdown(gaps []types.GapEntry) []types.CategoryGap {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, entry := range gaps {
		sums[entry.Category] += float64(entry.Gap)
		counts[entry.Category]++
	}
	out := make([]types.CategoryGap, 0, len(sums))
	for category, sum := range sums {
		out = append(out, types.CategoryGap{Category: category, AvgGap: sum / float64(counts[category])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
