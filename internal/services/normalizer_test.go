package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/types"
)

func newNormalizer(t *testing.T, taxonomy *fakeTaxonomy, matcher *fakeMatcher, cache NormalizationCache, cfg NormalizerConfig) SkillNormalizerService {
	t.Helper()
	return NewSkillNormalizerService(nil, testLogger(t), taxonomy, matcher, cache, cfg)
}

func TestNormalizeExactMatch(t *testing.T) {
	python := itemNode("Python", "python")
	taxonomy := newFakeTaxonomy(python)
	matcher := &fakeMatcher{}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "  PYTHON ", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodExact || match.Confidence != 1.0 {
		t.Fatalf("expected exact match with confidence 1, got %+v", match)
	}
	if match.SkillID == nil || *match.SkillID != python.ID {
		t.Fatalf("expected skill id %s, got %v", python.ID, match.SkillID)
	}
	if match.RawText != "  PYTHON " {
		t.Fatalf("raw text not echoed: %q", match.RawText)
	}
	if len(match.HierarchyPath) != 2 || match.HierarchyPath[1] != "Python" {
		t.Fatalf("unexpected hierarchy path: %v", match.HierarchyPath)
	}
	if matcher.calls != 0 {
		t.Fatalf("semantic matcher should not run on exact matches")
	}
}

func TestNormalizeAliasMatch(t *testing.T) {
	js := itemNode("JavaScript", "javascript", "js", "ecmascript")
	taxonomy := newFakeTaxonomy(js)
	svc := newNormalizer(t, taxonomy, &fakeMatcher{}, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "JS", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodExact || match.SkillID == nil || *match.SkillID != js.ID {
		t.Fatalf("alias should match exactly, got %+v", match)
	}
}

func TestNormalizeAliasMatchIsCaseInsensitive(t *testing.T) {
	js := itemNode("JavaScript", "javascript", "JS", "ECMAScript")
	taxonomy := newFakeTaxonomy(js)
	svc := newNormalizer(t, taxonomy, &fakeMatcher{}, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "js", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodExact || match.SkillID == nil || *match.SkillID != js.ID {
		t.Fatalf("stored-case alias should match exactly, got %+v", match)
	}
	if match.Confidence != 1.0 {
		t.Fatalf("exact alias match confidence = %f, want 1.0", match.Confidence)
	}
}

func TestRankBySimilarityFoldsAliases(t *testing.T) {
	js := itemNode("JavaScript", "javascript", "JS")
	ranked := rankBySimilarity("js", []*types.TaxonomyNode{js})
	if len(ranked) != 1 {
		t.Fatalf("expected one candidate, got %d", len(ranked))
	}
	if ranked[0].similarity != 1.0 {
		t.Fatalf("alias stored as JS should score 1.0 against js, got %f", ranked[0].similarity)
	}
}

func TestNormalizeEditDistance(t *testing.T) {
	k8s := itemNode("Kubernetes", "kubernetes")
	taxonomy := newFakeTaxonomy(k8s)
	matcher := &fakeMatcher{}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "kubernets", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodEditDistance {
		t.Fatalf("expected edit_distance, got %+v", match)
	}
	if match.SkillID == nil || *match.SkillID != k8s.ID {
		t.Fatalf("expected %s, got %v", k8s.ID, match.SkillID)
	}
	if match.Confidence < 0.8 || match.Confidence >= 1.0 {
		t.Fatalf("confidence out of range: %f", match.Confidence)
	}
	if match.LowConfidence {
		t.Fatalf("threshold-clearing match must not be low confidence")
	}
	if matcher.calls != 0 {
		t.Fatalf("semantic matcher should not run when edit distance clears the threshold")
	}
}

func TestNormalizeSemanticEscalation(t *testing.T) {
	postgres := itemNode("PostgreSQL", "postgresql")
	mysql := itemNode("MySQL", "mysql")
	mongo := itemNode("MongoDB", "mongodb")
	taxonomy := newFakeTaxonomy(postgres, mysql, mongo)

	var sawCandidates int
	matcher := &fakeMatcher{fn: func(rawText string, candidates []SemanticCandidate) (*SemanticMatch, error) {
		sawCandidates = len(candidates)
		return &SemanticMatch{SkillID: postgres.ID, Confidence: 0.9}, nil
	}}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{SemanticCandidateLimit: 2})

	match, err := svc.Normalize(context.Background(), "relational database administration", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodSemantic || match.SkillID == nil || *match.SkillID != postgres.ID {
		t.Fatalf("expected semantic match on postgres, got %+v", match)
	}
	if match.Confidence != 0.9 {
		t.Fatalf("confidence = %f, want 0.9", match.Confidence)
	}
	if sawCandidates != 2 {
		t.Fatalf("candidate list not bounded: got %d, want 2", sawCandidates)
	}
}

func TestNormalizeSemanticBelowThreshold(t *testing.T) {
	postgres := itemNode("PostgreSQL", "postgresql")
	taxonomy := newFakeTaxonomy(postgres)
	matcher := &fakeMatcher{fn: func(string, []SemanticCandidate) (*SemanticMatch, error) {
		return &SemanticMatch{SkillID: postgres.ID, Confidence: 0.3}, nil
	}}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "underwater basket weaving", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodUnmatched || match.SkillID != nil {
		t.Fatalf("expected unmatched, got %+v", match)
	}
}

func TestNormalizeSemanticUnavailableFallback(t *testing.T) {
	js := itemNode("JavaScript", "javascript")
	taxonomy := newFakeTaxonomy(js)
	matcher := &fakeMatcher{fn: func(string, []SemanticCandidate) (*SemanticMatch, error) {
		return nil, ErrSemanticUnavailable
	}}
	cache := newRecordingCache()
	// Threshold raised so the typo has to escalate.
	svc := newNormalizer(t, taxonomy, matcher, cache, NormalizerConfig{EditDistanceThreshold: 0.95})

	match, err := svc.Normalize(context.Background(), "javascrpt", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodEditDistance || !match.LowConfidence {
		t.Fatalf("expected low-confidence edit-distance fallback, got %+v", match)
	}
	if match.SkillID == nil || *match.SkillID != js.ID {
		t.Fatalf("expected %s, got %v", js.ID, match.SkillID)
	}
	if cache.puts != 0 {
		t.Fatalf("low-confidence fallback must not be cached")
	}
}

func TestNormalizeSemanticUnavailableNoPlausibleCandidate(t *testing.T) {
	js := itemNode("JavaScript", "javascript")
	taxonomy := newFakeTaxonomy(js)
	matcher := &fakeMatcher{fn: func(string, []SemanticCandidate) (*SemanticMatch, error) {
		return nil, ErrSemanticUnavailable
	}}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{})

	match, err := svc.Normalize(context.Background(), "zzzz", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodUnmatched {
		t.Fatalf("expected unmatched in degraded mode, got %+v", match)
	}
}

func TestNormalizeEmptyLabel(t *testing.T) {
	svc := newNormalizer(t, newFakeTaxonomy(), &fakeMatcher{}, nil, NormalizerConfig{})
	match, err := svc.Normalize(context.Background(), "   ", nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if match.Method != types.MatchMethodUnmatched {
		t.Fatalf("blank label should be unmatched, got %+v", match)
	}
}

func TestNormalizeBatchDedupes(t *testing.T) {
	python := itemNode("Python", "python")
	golang := itemNode("Go", "go")
	taxonomy := newFakeTaxonomy(python, golang)
	svc := newNormalizer(t, taxonomy, &fakeMatcher{}, nil, NormalizerConfig{})

	raw := []string{"Python", "  python ", "Go"}
	matches, err := svc.NormalizeBatch(context.Background(), raw, nil)
	if err != nil {
		t.Fatalf("NormalizeBatch: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 results, got %d", len(matches))
	}
	for i, match := range matches {
		if match.RawText != raw[i] {
			t.Fatalf("position %d echoes %q, want %q", i, match.RawText, raw[i])
		}
	}
	if *matches[0].SkillID != python.ID || *matches[1].SkillID != python.ID {
		t.Fatalf("duplicate labels resolved differently: %v vs %v", matches[0].SkillID, matches[1].SkillID)
	}
	if *matches[2].SkillID != golang.ID {
		t.Fatalf("expected go, got %v", matches[2].SkillID)
	}
	taxonomy.mu.Lock()
	calls := taxonomy.findCalls
	taxonomy.mu.Unlock()
	if calls != 2 {
		t.Fatalf("identical labels should be looked up once: %d lookups for 2 unique labels", calls)
	}
}

func TestNormalizeUsesCache(t *testing.T) {
	python := itemNode("Python", "python")
	taxonomy := newFakeTaxonomy(python)
	cache := newRecordingCache()
	svc := newNormalizer(t, taxonomy, &fakeMatcher{}, cache, NormalizerConfig{})

	ctx := context.Background()
	if _, err := svc.Normalize(ctx, "Python", nil); err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	if cache.puts != 1 {
		t.Fatalf("expected one cache put, got %d", cache.puts)
	}
	match, err := svc.Normalize(ctx, "python", nil)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected a cache hit, got %d", cache.hits)
	}
	if taxonomy.findCalls != 1 {
		t.Fatalf("cached lookup must not hit the taxonomy again: %d calls", taxonomy.findCalls)
	}
	if match.RawText != "python" {
		t.Fatalf("cached result must echo the caller's raw text: %q", match.RawText)
	}
}

func TestNormalizePropagatesMatcherErrors(t *testing.T) {
	node := itemNode("Terraform", "terraform")
	taxonomy := newFakeTaxonomy(node)
	boom := errors.New("boom")
	matcher := &fakeMatcher{fn: func(string, []SemanticCandidate) (*SemanticMatch, error) {
		return nil, boom
	}}
	svc := newNormalizer(t, taxonomy, matcher, nil, NormalizerConfig{})

	_, err := svc.Normalize(context.Background(), "infrastructure as code tooling", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected matcher error to propagate, got %v", err)
	}
}

func TestNormalizeDeterministicOnNameCollision(t *testing.T) {
	// Two items fold to the same label; the lexicographically smaller name
	// must win every time.
	a := itemNode("Go", "go")
	b := itemNode("GO", "go")
	taxonomy := newFakeTaxonomy(a, b)
	svc := newNormalizer(t, taxonomy, &fakeMatcher{}, nil, NormalizerConfig{})

	var winner uuid.UUID
	for i := 0; i < 5; i++ {
		match, err := svc.Normalize(context.Background(), "go", nil)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if i == 0 {
			winner = *match.SkillID
			continue
		}
		if *match.SkillID != winner {
			t.Fatalf("collision pick changed between runs")
		}
	}
	if winner != b.ID {
		t.Fatalf("expected %q to win the tie, got the other node", b.Name)
	}
}
