package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/normalization"
	"github.com/pathwise/pathwise-backend/internal/repos"
	"github.com/pathwise/pathwise-backend/internal/types"
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return log
}

// fakeTaxonomy serves a fixed node set; paths maps item ids to their
// root-first hierarchy path.
type fakeTaxonomy struct {
	mu        sync.Mutex
	nodes     []*types.TaxonomyNode
	paths     map[uuid.UUID][]string
	findCalls int
}

func newFakeTaxonomy(nodes ...*types.TaxonomyNode) *fakeTaxonomy {
	paths := make(map[uuid.UUID][]string, len(nodes))
	for _, node := range nodes {
		paths[node.ID] = []string{"Technical", node.Name}
	}
	return &fakeTaxonomy{nodes: nodes, paths: paths}
}

func (f *fakeTaxonomy) FindItemsByName(ctx context.Context, folded string, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	f.mu.Lock()
	f.findCalls++
	f.mu.Unlock()
	var out []*types.TaxonomyNode
	for _, node := range f.nodes {
		if !node.IsItem() {
			continue
		}
		if node.NameFolded == folded {
			out = append(out, node)
			continue
		}
		for _, alias := range decodeAliases(node.Aliases) {
			if normalization.FoldLabel(alias) == folded {
				out = append(out, node)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTaxonomy) ListItems(ctx context.Context, scopeNodeID *uuid.UUID) ([]*types.TaxonomyNode, error) {
	var out []*types.TaxonomyNode
	for _, node := range f.nodes {
		if node.IsItem() {
			out = append(out, node)
		}
	}
	return out, nil
}

func (f *fakeTaxonomy) HierarchyPath(ctx context.Context, id uuid.UUID) ([]string, error) {
	if path, ok := f.paths[id]; ok {
		return path, nil
	}
	return nil, errors.New("unknown node")
}

func (f *fakeTaxonomy) CategoryOf(ctx context.Context, id uuid.UUID) (string, error) {
	path, err := f.HierarchyPath(ctx, id)
	if err != nil {
		return "", err
	}
	return path[0], nil
}

func (f *fakeTaxonomy) ItemMeta(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SkillMeta, error) {
	out := make(map[uuid.UUID]SkillMeta, len(ids))
	for _, id := range ids {
		for _, node := range f.nodes {
			if node.ID == id {
				out[id] = SkillMeta{Name: node.Name, Category: f.paths[id][0]}
			}
		}
	}
	return out, nil
}

func itemNode(name, folded string, aliases ...string) *types.TaxonomyNode {
	node := &types.TaxonomyNode{
		ID:         uuid.New(),
		Level:      types.TaxonomyLevelItem,
		Name:       name,
		NameFolded: folded,
	}
	if len(aliases) > 0 {
		raw, _ := json.Marshal(aliases)
		node.Aliases = datatypes.JSON(raw)
	}
	return node
}

type fakeMatcher struct {
	mu    sync.Mutex
	calls int
	fn    func(rawText string, candidates []SemanticCandidate) (*SemanticMatch, error)
}

func (f *fakeMatcher) BestMatch(ctx context.Context, rawText string, candidates []SemanticCandidate) (*SemanticMatch, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return nil, ErrSemanticUnavailable
	}
	return f.fn(rawText, candidates)
}

type recordingCache struct {
	mu      sync.Mutex
	entries map[string]*types.NormalizedSkillMatch
	puts    int
	hits    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]*types.NormalizedSkillMatch{}}
}

func (c *recordingCache) Get(ctx context.Context, folded string, domainHint string) (*types.NormalizedSkillMatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	match, ok := c.entries[domainHint+"|"+folded]
	if ok {
		c.hits++
	}
	return match, ok
}

func (c *recordingCache) Put(ctx context.Context, folded string, domainHint string, match *types.NormalizedSkillMatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[domainHint+"|"+folded] = match
}

// passthroughTxRunner runs the closure without a transaction, for service
// tests backed by in-memory repos.
type passthroughTxRunner struct{}

func (passthroughTxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks []*types.GenerationTask

	// beforeCreate runs once under the lock before the next insert, standing
	// in for a concurrent writer sneaking in between check and create.
	beforeCreate func()
}

func (f *fakeTaskRepo) activePairLocked(subjectID, targetID uuid.UUID) bool {
	for _, task := range f.tasks {
		if task.SubjectID == subjectID && task.TargetID == targetID &&
			(task.Status == types.TaskStatusPending || task.Status == types.TaskStatusInProgress) {
			return true
		}
	}
	return false
}

func (f *fakeTaskRepo) CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.GenerationTask) ([]*types.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeCreate != nil {
		hook := f.beforeCreate
		f.beforeCreate = nil
		hook()
	}
	now := time.Now()
	for _, task := range tasks {
		// Mirrors the partial unique index on active (subject, target) pairs.
		if f.activePairLocked(task.SubjectID, task.TargetID) {
			return nil, gorm.ErrDuplicatedKey
		}
		if task.ID == uuid.Nil {
			task.ID = uuid.New()
		}
		task.CreatedAt = now
		f.tasks = append(f.tasks, task)
	}
	return tasks, nil
}

func (f *fakeTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID == id {
			return task, nil
		}
	}
	return nil, nil
}

func (f *fakeTaskRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GenerationTask
	for _, task := range f.tasks {
		if task.JobID == jobID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) GetActiveByPair(ctx context.Context, tx *gorm.DB, subjectID, targetID uuid.UUID) (*types.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.SubjectID == subjectID && task.TargetID == targetID &&
			(task.Status == types.TaskStatusPending || task.Status == types.TaskStatusInProgress) {
			return task, nil
		}
	}
	return nil, nil
}

func (f *fakeTaskRepo) ClaimNextPending(ctx context.Context, tx *gorm.DB) (*types.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.Status == types.TaskStatusPending {
			now := time.Now()
			task.Status = types.TaskStatusInProgress
			task.StartedAt = &now
			return task, nil
		}
	}
	return nil, nil
}

func (f *fakeTaskRepo) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, contentID uuid.UUID) (bool, error) {
	return f.transition(id, types.TaskStatusInProgress, func(task *types.GenerationTask) {
		now := time.Now()
		task.Status = types.TaskStatusCompleted
		task.ContentID = &contentID
		task.CompletedAt = &now
	})
}

func (f *fakeTaskRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error) {
	return f.transition(id, types.TaskStatusInProgress, func(task *types.GenerationTask) {
		now := time.Now()
		task.Status = types.TaskStatusFailed
		task.LastError = taskErr
		task.LastErrorAt = &now
	})
}

func (f *fakeTaskRepo) Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr string) (bool, error) {
	return f.transition(id, types.TaskStatusInProgress, func(task *types.GenerationTask) {
		now := time.Now()
		task.Status = types.TaskStatusPending
		task.RetryCount++
		task.LastError = taskErr
		task.LastErrorAt = &now
		task.StartedAt = nil
	})
}

func (f *fakeTaskRepo) transition(id uuid.UUID, from string, apply func(task *types.GenerationTask)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID == id {
			if task.Status != from {
				return false, nil
			}
			apply(task)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTaskRepo) ReclaimStale(ctx context.Context, tx *gorm.DB, staleAfter time.Duration, maxRetries int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	var requeued, failed int64
	for _, task := range f.tasks {
		if task.Status != types.TaskStatusInProgress || task.StartedAt == nil || !task.StartedAt.Before(cutoff) {
			continue
		}
		if task.RetryCount >= maxRetries {
			task.Status = types.TaskStatusFailed
			task.LastError = "stale task exceeded retry budget"
			failed++
			continue
		}
		task.Status = types.TaskStatusPending
		task.RetryCount++
		task.StartedAt = nil
		requeued++
	}
	return requeued, failed, nil
}

func (f *fakeTaskRepo) CancelPending(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cancelled int64
	for _, task := range f.tasks {
		if task.JobID == jobID && task.Status == types.TaskStatusPending {
			task.Status = types.TaskStatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (f *fakeTaskRepo) CountsForJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (repos.TaskCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts repos.TaskCounts
	for _, task := range f.tasks {
		if task.JobID == jobID {
			tally(&counts, task.Status)
		}
	}
	return counts, nil
}

func (f *fakeTaskRepo) CountsForTaskIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (repos.TaskCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var counts repos.TaskCounts
	for _, task := range f.tasks {
		if wanted[task.ID] {
			tally(&counts, task.Status)
		}
	}
	return counts, nil
}

func tally(counts *repos.TaskCounts, status string) {
	switch status {
	case types.TaskStatusPending:
		counts.Pending++
	case types.TaskStatusInProgress:
		counts.InProgress++
	case types.TaskStatusCompleted:
		counts.Completed++
	case types.TaskStatusFailed:
		counts.Failed++
	case types.TaskStatusCancelled:
		counts.Cancelled++
	}
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.GenerationJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*types.GenerationJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.GenerationJob) (*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id], nil
}

func (f *fakeJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil
	}
	if raw, ok := updates["metadata"].(datatypes.JSON); ok {
		job.Metadata = raw
	}
	return nil
}

func (f *fakeJobRepo) SyncCounts(ctx context.Context, tx *gorm.DB, id uuid.UUID, counts repos.TaskCounts) (*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	job.CompletedCount = counts.Completed
	job.FailedCount = counts.Failed
	job.CancelledCount = counts.Cancelled
	switch {
	case counts.Total() > 0 && counts.Terminal() == counts.Total():
		job.Status = types.JobStatusCompleted
		if job.CompletedAt == nil {
			now := time.Now()
			job.CompletedAt = &now
		}
	case counts.InProgress > 0 || counts.Terminal() > 0:
		job.Status = types.JobStatusInProgress
	}
	return job, nil
}

type fakeContentRepo struct {
	mu       sync.Mutex
	contents []*types.GeneratedContent
}

func (f *fakeContentRepo) Create(ctx context.Context, tx *gorm.DB, content *types.GeneratedContent) (*types.GeneratedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if content.ID == uuid.Nil {
		content.ID = uuid.New()
	}
	f.contents = append(f.contents, content)
	return content, nil
}

func (f *fakeContentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GeneratedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, content := range f.contents {
		if content.ID == id {
			return content, nil
		}
	}
	return nil, nil
}

type fakeSkillRepo struct {
	records map[uuid.UUID][]*types.SkillRecord
}

func (f *fakeSkillRepo) ListBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.SkillRecord, error) {
	return f.records[subjectID], nil
}

func (f *fakeSkillRepo) ListBySubjects(ctx context.Context, tx *gorm.DB, subjectIDs []uuid.UUID) ([]*types.SkillRecord, error) {
	var out []*types.SkillRecord
	for _, id := range subjectIDs {
		out = append(out, f.records[id]...)
	}
	return out, nil
}

type fakeLocator struct {
	profile *types.RequirementProfile
}

func (f *fakeLocator) FetchByID(ctx context.Context, id uuid.UUID) (*types.RequirementProfile, error) {
	if f.profile == nil {
		return nil, errors.New("no requirement profile found")
	}
	return f.profile, nil
}

// fakeContentClient pops one scripted error per call, then succeeds.
type fakeContentClient struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	lastCtx *GenerationContext
	payload *GeneratedPayload
}

func (f *fakeContentClient) Generate(ctx context.Context, genCtx GenerationContext) (*GeneratedPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCtx = &genCtx
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	payload := f.payload
	if payload == nil {
		payload = &GeneratedPayload{
			Title: "Learning Path",
			Body:  map[string]any{"title": "Learning Path", "summary": "ok", "courses": []any{}},
			Model: "test-model",
		}
	}
	return payload, nil
}
