package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/normalization"
	"github.com/pathwise/pathwise-backend/internal/types"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

// NormalizationCache is the repeat-lookup cache boundary. The redis client
// satisfies it; a nil-backed implementation degrades to direct matching.
type NormalizationCache interface {
	Get(ctx context.Context, folded string, domainHint string) (*types.NormalizedSkillMatch, bool)
	Put(ctx context.Context, folded string, domainHint string, match *types.NormalizedSkillMatch)
}

type NormalizerConfig struct {
	// EditDistanceThreshold is the similarity a fuzzy candidate must clear to
	// be accepted without semantic escalation.
	EditDistanceThreshold float64
	// SemanticThreshold is the floor for accepting a semantic suggestion, and
	// also the floor for the degraded edit-distance fallback when the
	// semantic service is unavailable.
	SemanticThreshold float64
	// SemanticCandidateLimit bounds the candidate list sent to the matcher.
	SemanticCandidateLimit int
	// BatchParallelism bounds concurrent lookups inside NormalizeBatch.
	BatchParallelism int
}

func LoadNormalizerConfig(log *logger.Logger) NormalizerConfig {
	return NormalizerConfig{
		EditDistanceThreshold:  utils.GetEnvAsFloat("NORMALIZER_EDIT_THRESHOLD", 0.8, log),
		SemanticThreshold:      utils.GetEnvAsFloat("NORMALIZER_SEMANTIC_THRESHOLD", 0.6, log),
		SemanticCandidateLimit: utils.GetEnvAsInt("NORMALIZER_SEMANTIC_CANDIDATES", 25, log),
		BatchParallelism:       utils.GetEnvAsInt("NORMALIZER_BATCH_PARALLELISM", 4, log),
	}
}

type SkillNormalizerService interface {
	Normalize(ctx context.Context, rawText string, domainHint *uuid.UUID) (*types.NormalizedSkillMatch, error)
	NormalizeBatch(ctx context.Context, rawTexts []string, domainHint *uuid.UUID) ([]*types.NormalizedSkillMatch, error)
}

type skillNormalizerService struct {
	db       *gorm.DB
	log      *logger.Logger
	taxonomy TaxonomyService
	matcher  SemanticMatcher
	cache    NormalizationCache
	cfg      NormalizerConfig
}

func NewSkillNormalizerService(db *gorm.DB, baseLog *logger.Logger, taxonomy TaxonomyService, matcher SemanticMatcher, cache NormalizationCache, cfg NormalizerConfig) SkillNormalizerService {
	if cfg.EditDistanceThreshold <= 0 {
		cfg.EditDistanceThreshold = 0.8
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 0.6
	}
	if cfg.SemanticCandidateLimit <= 0 {
		cfg.SemanticCandidateLimit = 25
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = 4
	}
	if cache == nil {
		cache = noopCache{}
	}
	return &skillNormalizerService{
		db:       db,
		log:      baseLog.With("service", "SkillNormalizerService"),
		taxonomy: taxonomy,
		matcher:  matcher,
		cache:    cache,
		cfg:      cfg,
	}
}

func (s *skillNormalizerService) Normalize(ctx context.Context, rawText string, domainHint *uuid.UUID) (*types.NormalizedSkillMatch, error) {
	match, err := s.normalizeFolded(ctx, normalization.FoldLabel(rawText), domainHint)
	if err != nil {
		return nil, err
	}
	match.RawText = rawText
	return match, nil
}

func (s *skillNormalizerService) NormalizeBatch(ctx context.Context, rawTexts []string, domainHint *uuid.UUID) ([]*types.NormalizedSkillMatch, error) {
	results := make([]*types.NormalizedSkillMatch, len(rawTexts))
	if len(rawTexts) == 0 {
		return results, nil
	}

	// Identical labels are matched once and the result shared.
	unique := make(map[string][]int)
	order := make([]string, 0, len(rawTexts))
	for i, raw := range rawTexts {
		folded := normalization.FoldLabel(raw)
		if _, seen := unique[folded]; !seen {
			order = append(order, folded)
		}
		unique[folded] = append(unique[folded], i)
	}

	var mu sync.Mutex
	matched := make(map[string]*types.NormalizedSkillMatch, len(order))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.BatchParallelism)
	for _, folded := range order {
		group.Go(func() error {
			match, err := s.normalizeFolded(groupCtx, folded, domainHint)
			if err != nil {
				return err
			}
			mu.Lock()
			matched[folded] = match
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for folded, indexes := range unique {
		base := matched[folded]
		for _, i := range indexes {
			// Each position echoes its own original text.
			copied := *base
			copied.RawText = rawTexts[i]
			results[i] = &copied
		}
	}
	return results, nil
}

// normalizeFolded runs the match ladder on an already-folded label:
// exact -> edit distance -> semantic escalation -> unmatched.
func (s *skillNormalizerService) normalizeFolded(ctx context.Context, folded string, domainHint *uuid.UUID) (*types.NormalizedSkillMatch, error) {
	if folded == "" {
		return &types.NormalizedSkillMatch{Method: types.MatchMethodUnmatched}, nil
	}

	hintKey := ""
	if domainHint != nil {
		hintKey = domainHint.String()
	}
	if cached, ok := s.cache.Get(ctx, folded, hintKey); ok {
		copied := *cached
		return &copied, nil
	}

	exact, err := s.taxonomy.FindItemsByName(ctx, folded, domainHint)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		node := pickDeterministic(exact)
		match, err := s.buildMatch(ctx, node.ID, 1.0, types.MatchMethodExact, false)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, folded, hintKey, match)
		return match, nil
	}

	candidates, err := s.taxonomy.ListItems(ctx, domainHint)
	if err != nil {
		return nil, err
	}
	ranked := rankBySimilarity(folded, candidates)
	if len(ranked) == 0 {
		return &types.NormalizedSkillMatch{Method: types.MatchMethodUnmatched}, nil
	}

	best := ranked[0]
	if best.similarity >= s.cfg.EditDistanceThreshold {
		match, err := s.buildMatch(ctx, best.node.ID, best.similarity, types.MatchMethodEditDistance, false)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, folded, hintKey, match)
		return match, nil
	}

	limit := s.cfg.SemanticCandidateLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}
	semCandidates := make([]SemanticCandidate, 0, limit)
	for _, rc := range ranked[:limit] {
		semCandidates = append(semCandidates, SemanticCandidate{SkillID: rc.node.ID, Name: rc.node.Name})
	}

	semantic, err := s.matcher.BestMatch(ctx, folded, semCandidates)
	if err != nil {
		if errors.Is(err, ErrSemanticUnavailable) {
			// Degraded mode: keep the fuzzy candidate when it is at least
			// plausible, flagged so callers can treat it with suspicion.
			if best.similarity >= s.cfg.SemanticThreshold {
				s.log.Warn("Semantic matcher unavailable, falling back to edit distance",
					"folded", folded, "similarity", best.similarity)
				return s.buildMatch(ctx, best.node.ID, best.similarity, types.MatchMethodEditDistance, true)
			}
			return &types.NormalizedSkillMatch{Method: types.MatchMethodUnmatched}, nil
		}
		return nil, err
	}
	if semantic != nil && semantic.Confidence >= s.cfg.SemanticThreshold {
		match, err := s.buildMatch(ctx, semantic.SkillID, semantic.Confidence, types.MatchMethodSemantic, false)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, folded, hintKey, match)
		return match, nil
	}
	return &types.NormalizedSkillMatch{Method: types.MatchMethodUnmatched}, nil
}

func (s *skillNormalizerService) buildMatch(ctx context.Context, skillID uuid.UUID, confidence float64, method string, lowConfidence bool) (*types.NormalizedSkillMatch, error) {
	path, err := s.taxonomy.HierarchyPath(ctx, skillID)
	if err != nil {
		return nil, err
	}
	id := skillID
	return &types.NormalizedSkillMatch{
		SkillID:       &id,
		Confidence:    confidence,
		Method:        method,
		LowConfidence: lowConfidence,
		HierarchyPath: path,
	}, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, string) (*types.NormalizedSkillMatch, bool) {
	return nil, false
}
func (noopCache) Put(context.Context, string, string, *types.NormalizedSkillMatch) {}

func decodeAliases(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var aliases []string
	if err := json.Unmarshal(raw, &aliases); err != nil {
		return nil
	}
	return aliases
}

type rankedCandidate struct {
	node       *types.TaxonomyNode
	similarity float64
}

// rankBySimilarity scores every candidate against the folded label, taking
// the best of the name and any alias, and orders descending with name then
// id tie-breaks for determinism. Aliases are stored as written, so they are
// folded here before scoring.
func rankBySimilarity(folded string, candidates []*types.TaxonomyNode) []rankedCandidate {
	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, node := range candidates {
		score := normalization.Similarity(folded, node.NameFolded)
		for _, alias := range decodeAliases(node.Aliases) {
			if aliasScore := normalization.Similarity(folded, normalization.FoldLabel(alias)); aliasScore > score {
				score = aliasScore
			}
		}
		ranked = append(ranked, rankedCandidate{node: node, similarity: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].similarity != ranked[j].similarity {
			return ranked[i].similarity > ranked[j].similarity
		}
		if ranked[i].node.Name != ranked[j].node.Name {
			return ranked[i].node.Name < ranked[j].node.Name
		}
		return ranked[i].node.ID.String() < ranked[j].node.ID.String()
	})
	return ranked
}

func pickDeterministic(nodes []*types.TaxonomyNode) *types.TaxonomyNode {
	picked := nodes[0]
	for _, node := range nodes[1:] {
		if node.Name < picked.Name || (node.Name == picked.Name && node.ID.String() < picked.ID.String()) {
			picked = node
		}
	}
	return picked
}
