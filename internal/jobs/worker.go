package jobs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/services"
	"github.com/pathwise/pathwise-backend/internal/types"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

type WorkerConfig struct {
	// PoolSize is the number of independent claim loops. Workers share no
	// state; the task rows are the only coordination point.
	PoolSize     int
	TickInterval time.Duration
	// ErrorBackoff stretches the next tick after a claim error.
	ErrorBackoff time.Duration
}

func LoadWorkerConfig(log *logger.Logger) WorkerConfig {
	return WorkerConfig{
		PoolSize:     utils.GetEnvAsInt("WORKER_POOL_SIZE", 4, log),
		TickInterval: time.Duration(utils.GetEnvAsInt("WORKER_TICK_SECONDS", 5, log)) * time.Second,
		ErrorBackoff: time.Duration(utils.GetEnvAsInt("WORKER_ERROR_BACKOFF_SECONDS", 30, log)) * time.Second,
	}
}

// Worker pulls claimed tasks through the generation service. Each pool
// member runs its own ticker loop so a slow generation call only occupies
// one slot.
type Worker struct {
	log        *logger.Logger
	generation services.GenerationService
	cfg        WorkerConfig
}

func NewWorker(baseLog *logger.Logger, generation services.GenerationService, cfg WorkerConfig) *Worker {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	return &Worker{
		log:        baseLog.With("component", "GenerationWorker"),
		generation: generation,
		cfg:        cfg,
	}
}

func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.PoolSize; i++ {
		go w.runLoop(ctx, i)
	}
	w.log.Info("Generation workers started", "pool_size", w.cfg.PoolSize)
}

func (w *Worker) runLoop(ctx context.Context, slot int) {
	loopLog := w.log.With("slot", slot)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := w.generation.ClaimNext(ctx)
			if err != nil {
				loopLog.Warn("ClaimNext failed", "error", err)
				// Wait longer after an error so a sick datastore is not
				// hammered by the whole pool.
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.cfg.ErrorBackoff):
				}
				continue
			}
			if task == nil {
				continue
			}
			w.runOne(ctx, loopLog, task)
		}
	}
}

// DrainTick claims and executes up to limit pending tasks, for the external
// scheduler entrypoint. It returns the number of tasks it picked up.
func (w *Worker) DrainTick(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = w.cfg.PoolSize
	}
	claimed := 0
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.PoolSize)
	for claimed < limit {
		task, err := w.generation.ClaimNext(ctx)
		if err != nil {
			_ = group.Wait()
			return claimed, err
		}
		if task == nil {
			break
		}
		claimed++
		group.Go(func() error {
			w.runOne(groupCtx, w.log, task)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return claimed, err
	}
	return claimed, nil
}

func (w *Worker) runOne(ctx context.Context, log *logger.Logger, task *types.GenerationTask) {
	// If execution panics, the task must still reach a terminal state
	// instead of squatting in_progress until the stale reclaimer finds it.
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task execution panic", "task_id", task.ID, "panic", r)
			w.generation.AbsorbPanic(ctx, task, r)
		}
	}()
	if err := w.generation.ExecuteTask(ctx, task); err != nil {
		log.Warn("ExecuteTask reported error", "task_id", task.ID, "error", err)
	}
}
