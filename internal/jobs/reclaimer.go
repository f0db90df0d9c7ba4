package jobs

import (
	"context"
	"time"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/services"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

type ReclaimerConfig struct {
	Interval time.Duration
}

func LoadReclaimerConfig(log *logger.Logger) ReclaimerConfig {
	return ReclaimerConfig{
		Interval: time.Duration(utils.GetEnvAsInt("RECLAIMER_INTERVAL_SECONDS", 60, log)) * time.Second,
	}
}

// Reclaimer periodically sweeps tasks that a crashed or hung worker left
// in_progress, so they re-enter the queue without operator action.
type Reclaimer struct {
	log        *logger.Logger
	generation services.GenerationService
	cfg        ReclaimerConfig
}

func NewReclaimer(baseLog *logger.Logger, generation services.GenerationService, cfg ReclaimerConfig) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reclaimer{
		log:        baseLog.With("component", "StaleTaskReclaimer"),
		generation: generation,
		cfg:        cfg,
	}
}

func (r *Reclaimer) Start(ctx context.Context) {
	go r.runLoop(ctx)
	r.log.Info("Stale task reclaimer started", "interval", r.cfg.Interval.String())
}

func (r *Reclaimer) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := r.generation.ReclaimStale(ctx); err != nil {
				r.log.Warn("Stale reclaim sweep failed", "error", err)
			}
		}
	}
}
