package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/repos"
	"github.com/pathwise/pathwise-backend/internal/types"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

var (
	// ErrInvalidEnqueueRequest covers malformed enqueue input; it surfaces
	// synchronously at the API boundary. Everything downstream of admission
	// is absorbed into task state instead.
	ErrInvalidEnqueueRequest = errors.New("invalid enqueue request")
	ErrJobNotFound           = errors.New("generation job not found")
)

type GenerationConfig struct {
	MaxRetries int
	StaleAfter time.Duration
}

func LoadGenerationConfig(log *logger.Logger) GenerationConfig {
	return GenerationConfig{
		MaxRetries: utils.GetEnvAsInt("GENERATION_MAX_RETRIES", 3, log),
		StaleAfter: time.Duration(utils.GetEnvAsInt("GENERATION_STALE_SECONDS", 600, log)) * time.Second,
	}
}

type EnqueueOptions struct {
	Title string
}

type EnqueueResult struct {
	JobID       uuid.UUID `json:"job_id"`
	TotalCount  int       `json:"total_count"`
	NewTasks    int       `json:"new_tasks"`
	ReusedTasks int       `json:"reused_tasks"`
}

type JobStatusResult struct {
	JobID          uuid.UUID `json:"job_id"`
	Status         string    `json:"status"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	TotalCount     int       `json:"total_count"`
	Progress       int       `json:"progress"`
}

type GenerationService interface {
	// Enqueue admits a batch of generation work and returns immediately;
	// it never waits on generation itself.
	Enqueue(ctx context.Context, targetID uuid.UUID, targetType string, subjectIDs []uuid.UUID, opts EnqueueOptions) (*EnqueueResult, error)

	// TriggerSingle creates or reuses the task for one (subject, target)
	// pair under the one-active-task guard.
	TriggerSingle(ctx context.Context, subjectID, targetID uuid.UUID) (*types.GenerationTask, error)

	Status(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error)

	// Cancel stops the job's not-yet-started tasks. Tasks already running
	// finish on their own; completed content stays valid.
	Cancel(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error)

	// ClaimNext hands one pending task to a worker, oldest first.
	ClaimNext(ctx context.Context) (*types.GenerationTask, error)

	// ExecuteTask runs a claimed task to a terminal or requeued state. The
	// returned error is informational; the task row already reflects it.
	ExecuteTask(ctx context.Context, task *types.GenerationTask) error

	// ReclaimStale requeues tasks stuck in_progress past the timeout.
	ReclaimStale(ctx context.Context) (requeued int64, failed int64, err error)

	// AbsorbPanic records a panic during execution as a task failure.
	AbsorbPanic(ctx context.Context, task *types.GenerationTask, recovered any)
}

type generationService struct {
	runner      repos.TxRunner
	log         *logger.Logger
	jobRepo     repos.GenerationJobRepo
	taskRepo    repos.GenerationTaskRepo
	contentRepo repos.GeneratedContentRepo
	skillRepo   repos.SkillRecordRepo
	locator     RequirementLocator
	taxonomy    TaxonomyService
	gap         GapAnalysisService
	client      ContentGenerationClient
	cfg         GenerationConfig
}

func NewGenerationService(
	runner repos.TxRunner,
	baseLog *logger.Logger,
	jobRepo repos.GenerationJobRepo,
	taskRepo repos.GenerationTaskRepo,
	contentRepo repos.GeneratedContentRepo,
	skillRepo repos.SkillRecordRepo,
	locator RequirementLocator,
	taxonomy TaxonomyService,
	gap GapAnalysisService,
	client ContentGenerationClient,
	cfg GenerationConfig,
) GenerationService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &generationService{
		runner:      runner,
		log:         baseLog.With("service", "GenerationService"),
		jobRepo:     jobRepo,
		taskRepo:    taskRepo,
		contentRepo: contentRepo,
		skillRepo:   skillRepo,
		locator:     locator,
		taxonomy:    taxonomy,
		gap:         gap,
		client:      client,
		cfg:         cfg,
	}
}

type jobMetadata struct {
	Title          string      `json:"title,omitempty"`
	AdoptedTaskIDs []uuid.UUID `json:"adopted_task_ids,omitempty"`
}

func encodeJobMetadata(meta jobMetadata) datatypes.JSON {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return raw
}

func decodeJobMetadata(raw datatypes.JSON) jobMetadata {
	var meta jobMetadata
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta
}

func (s *generationService) Enqueue(ctx context.Context, targetID uuid.UUID, targetType string, subjectIDs []uuid.UUID, opts EnqueueOptions) (*EnqueueResult, error) {
	if targetID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing target id", ErrInvalidEnqueueRequest)
	}
	if targetType == "" {
		targetType = "role"
	}
	unique := make([]uuid.UUID, 0, len(subjectIDs))
	seen := make(map[uuid.UUID]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: empty subject list", ErrInvalidEnqueueRequest)
	}

	var result *EnqueueResult
	err := s.withPairGuardRetry(func() error {
		result = nil
		return s.runner.InTx(ctx, func(tx *gorm.DB) error {
			return s.enqueueTx(ctx, tx, targetID, targetType, unique, opts, &result)
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Enqueued generation job",
		"job_id", result.JobID, "target_id", targetID,
		"total", result.TotalCount, "new", result.NewTasks, "reused", result.ReusedTasks)
	return result, nil
}

// withPairGuardRetry reruns fn when the active-pair unique index rejects an
// insert: a concurrent enqueue won the pair between the reuse check and the
// create, and the rerun adopts the winner's row instead.
func (s *generationService) withPairGuardRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		s.log.Debug("Active-pair guard hit, re-resolving", "attempt", attempt+1)
	}
	return err
}

func (s *generationService) enqueueTx(ctx context.Context, tx *gorm.DB, targetID uuid.UUID, targetType string, unique []uuid.UUID, opts EnqueueOptions, result **EnqueueResult) error {
	job, err := s.jobRepo.Create(ctx, tx, &types.GenerationJob{
		GroupID:    targetID,
		GroupType:  targetType,
		Status:     types.JobStatusCreated,
		TotalCount: len(unique),
	})
	if err != nil {
		return err
	}

	meta := jobMetadata{Title: opts.Title}
	newTasks := make([]*types.GenerationTask, 0, len(unique))
	for _, subjectID := range unique {
		existing, err := s.taskRepo.GetActiveByPair(ctx, tx, subjectID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			meta.AdoptedTaskIDs = append(meta.AdoptedTaskIDs, existing.ID)
			continue
		}
		newTasks = append(newTasks, &types.GenerationTask{
			JobID:     job.ID,
			SubjectID: subjectID,
			TargetID:  targetID,
			Status:    types.TaskStatusPending,
		})
	}
	if _, err := s.taskRepo.CreateBatch(ctx, tx, newTasks); err != nil {
		return err
	}
	if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
		"metadata": encodeJobMetadata(meta),
	}); err != nil {
		return err
	}

	*result = &EnqueueResult{
		JobID:       job.ID,
		TotalCount:  len(unique),
		NewTasks:    len(newTasks),
		ReusedTasks: len(meta.AdoptedTaskIDs),
	}
	return nil
}

func (s *generationService) TriggerSingle(ctx context.Context, subjectID, targetID uuid.UUID) (*types.GenerationTask, error) {
	if subjectID == uuid.Nil || targetID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject and target ids are required", ErrInvalidEnqueueRequest)
	}
	var task *types.GenerationTask
	err := s.withPairGuardRetry(func() error {
		existing, err := s.taskRepo.GetActiveByPair(ctx, nil, subjectID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			task = existing
			return nil
		}
		return s.runner.InTx(ctx, func(tx *gorm.DB) error {
			job, err := s.jobRepo.Create(ctx, tx, &types.GenerationJob{
				GroupID:    targetID,
				GroupType:  "single",
				Status:     types.JobStatusCreated,
				TotalCount: 1,
			})
			if err != nil {
				return err
			}
			created, err := s.taskRepo.CreateBatch(ctx, tx, []*types.GenerationTask{{
				JobID:     job.ID,
				SubjectID: subjectID,
				TargetID:  targetID,
				Status:    types.TaskStatusPending,
			}})
			if err != nil {
				return err
			}
			task = created[0]
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *generationService) Status(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error) {
	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return s.refreshJob(ctx, job)
}

// refreshJob recomputes the job's aggregate view from task rows, including
// any tasks adopted from earlier jobs, and writes the cache back.
func (s *generationService) refreshJob(ctx context.Context, job *types.GenerationJob) (*JobStatusResult, error) {
	counts, err := s.taskRepo.CountsForJob(ctx, nil, job.ID)
	if err != nil {
		return nil, err
	}
	meta := decodeJobMetadata(job.Metadata)
	if len(meta.AdoptedTaskIDs) > 0 {
		adopted, err := s.taskRepo.CountsForTaskIDs(ctx, nil, meta.AdoptedTaskIDs)
		if err != nil {
			return nil, err
		}
		counts.Pending += adopted.Pending
		counts.InProgress += adopted.InProgress
		counts.Completed += adopted.Completed
		counts.Failed += adopted.Failed
		counts.Cancelled += adopted.Cancelled
	}
	synced, err := s.jobRepo.SyncCounts(ctx, nil, job.ID, counts)
	if err != nil {
		return nil, err
	}
	// Progress tracks work actually finished; cancelled tasks close the job
	// out through its status but never count toward progress.
	total := synced.TotalCount
	progress := 0
	if total > 0 {
		progress = int(math.Round(100 * float64(counts.Completed+counts.Failed) / float64(total)))
	}
	return &JobStatusResult{
		JobID:          synced.ID,
		Status:         synced.Status,
		CompletedCount: counts.Completed,
		FailedCount:    counts.Failed,
		TotalCount:     total,
		Progress:       progress,
	}, nil
}

func (s *generationService) Cancel(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error) {
	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	cancelled, err := s.taskRepo.CancelPending(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Cancelled pending tasks", "job_id", jobID, "cancelled", cancelled)
	return s.refreshJob(ctx, job)
}

func (s *generationService) ClaimNext(ctx context.Context) (*types.GenerationTask, error) {
	return s.taskRepo.ClaimNextPending(ctx, nil)
}

func (s *generationService) ReclaimStale(ctx context.Context) (int64, int64, error) {
	requeued, failed, err := s.taskRepo.ReclaimStale(ctx, nil, s.cfg.StaleAfter, s.cfg.MaxRetries)
	if err != nil {
		return 0, 0, err
	}
	if requeued > 0 || failed > 0 {
		s.log.Warn("Reclaimed stale tasks", "requeued", requeued, "failed", failed)
	}
	return requeued, failed, nil
}

func (s *generationService) ExecuteTask(ctx context.Context, task *types.GenerationTask) error {
	if task == nil || task.Status != types.TaskStatusInProgress {
		return fmt.Errorf("task must be claimed before execution")
	}
	taskLog := s.log.With("task_id", task.ID, "subject_id", task.SubjectID, "target_id", task.TargetID)

	genCtx, err := s.assembleContext(ctx, task)
	if err != nil {
		// Context assembly needs no external service; failure here means the
		// profile is gone or the data is broken, which retries cannot fix.
		taskLog.Error("Context assembly failed", "error", err)
		return s.absorbFailure(ctx, task, &GenerationError{Kind: GenerationErrorPermanent, Err: err})
	}

	payload, err := s.client.Generate(ctx, *genCtx)
	if err != nil {
		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			genErr = &GenerationError{Kind: GenerationErrorTransient, Err: err}
		}
		return s.absorbFailure(ctx, task, genErr)
	}

	body := payload.Body
	if body == nil {
		body = map[string]any{}
	}
	rawBody, err := json.Marshal(body)
	if err != nil {
		return s.absorbFailure(ctx, task, &GenerationError{Kind: GenerationErrorPermanent, Err: err})
	}
	content, err := s.contentRepo.Create(ctx, nil, &types.GeneratedContent{
		TaskID:    task.ID,
		SubjectID: task.SubjectID,
		TargetID:  task.TargetID,
		Title:     payload.Title,
		Body:      rawBody,
		Model:     payload.Model,
	})
	if err != nil {
		return s.absorbFailure(ctx, task, &GenerationError{Kind: GenerationErrorTransient, Err: err})
	}

	moved, err := s.taskRepo.MarkCompleted(ctx, nil, task.ID, content.ID)
	if err != nil {
		return err
	}
	if !moved {
		// A reclaim raced us; the content row stays, the task will rerun.
		taskLog.Warn("Task was no longer in_progress at completion")
		return nil
	}
	taskLog.Info("Task completed", "content_id", content.ID)
	s.syncOwningJob(ctx, task.JobID)
	return nil
}

func (s *generationService) AbsorbPanic(ctx context.Context, task *types.GenerationTask, recovered any) {
	if task == nil {
		return
	}
	genErr := &GenerationError{
		Kind: GenerationErrorTransient,
		Err:  fmt.Errorf("panic during generation: %v", recovered),
	}
	if err := s.absorbFailure(ctx, task, genErr); err != nil {
		s.log.Error("Failed to record panicked task", "task_id", task.ID, "error", err)
	}
}

// absorbFailure applies retry classification and never surfaces generation
// failures to callers as errors; the task row is the record.
func (s *generationService) absorbFailure(ctx context.Context, task *types.GenerationTask, genErr *GenerationError) error {
	taskLog := s.log.With("task_id", task.ID)
	if genErr.IsTransient() && task.RetryCount < s.cfg.MaxRetries {
		moved, err := s.taskRepo.Requeue(ctx, nil, task.ID, genErr.Error())
		if err != nil {
			return err
		}
		if moved {
			taskLog.Warn("Task requeued after transient failure",
				"retry_count", task.RetryCount+1, "error", genErr.Error())
		}
		return nil
	}
	moved, err := s.taskRepo.MarkFailed(ctx, nil, task.ID, genErr.Error())
	if err != nil {
		return err
	}
	if moved {
		taskLog.Error("Task failed", "kind", string(genErr.Kind), "error", genErr.Error())
		s.syncOwningJob(ctx, task.JobID)
	}
	return nil
}

// syncOwningJob opportunistically refreshes the owning job's counters after
// a terminal transition. Status queries recompute anyway, so a failure here
// only delays the cached view.
func (s *generationService) syncOwningJob(ctx context.Context, jobID uuid.UUID) {
	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil || job == nil {
		return
	}
	if _, err := s.refreshJob(ctx, job); err != nil {
		s.log.Warn("Job counter refresh failed", "job_id", jobID, "error", err)
	}
}

func (s *generationService) assembleContext(ctx context.Context, task *types.GenerationTask) (*GenerationContext, error) {
	profile, err := s.locator.FetchByID(ctx, task.TargetID)
	if err != nil {
		return nil, err
	}
	skills, err := s.skillRepo.ListBySubject(ctx, nil, task.SubjectID)
	if err != nil {
		return nil, err
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
	report := s.gap.Analyze(task.SubjectID, profile.TargetID, skills, profile, meta)

	contextSkills := make([]ContextSkill, 0, len(skills))
	for _, skill := range skills {
		if skill.IsMissing {
			continue
		}
		contextSkills = append(contextSkills, ContextSkill{
			Name:        meta[skill.SkillID].Name,
			Proficiency: skill.Proficiency,
		})
	}

	title := ""
	if job, err := s.jobRepo.GetByID(ctx, nil, task.JobID); err == nil && job != nil {
		title = decodeJobMetadata(job.Metadata).Title
	}

	return &GenerationContext{
		SubjectID:     task.SubjectID,
		TargetID:      profile.TargetID,
		Title:         title,
		TargetTitle:   profile.Title,
		SubjectSkills: contextSkills,
		GapReport:     report,
	}, nil
}
