package jobqueue

import (
	"context"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/env"
	"github.com/VisageAI/visage/internal/pkg/events"
	"github.com/VisageAI/visage/internal/pkg/generation"
)

const (
	defaultStuckAfterMinutes    = 30
	defaultSweepIntervalMinutes = 5
	sweepBatchSize              = 100
)

// Watchdog fails generations whose provider callback never arrived. Marking
// them failed goes through the lifecycle tracker, so each swept generation
// gets its debit refunded exactly once.
type Watchdog struct {
	generations   repository.GenerationRepository
	tracker       *generation.Tracker
	stuckAfter    time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// NewWatchdog creates a watchdog from injected dependencies.
func NewWatchdog(generations repository.GenerationRepository, tracker *generation.Tracker, stuckAfter, sweepInterval time.Duration) *Watchdog {
	return &Watchdog{
		generations:   generations,
		tracker:       tracker,
		stuckAfter:    stuckAfter,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// NewWatchdogFromDB creates a watchdog with env-configured intervals.
func NewWatchdogFromDB(db *gorm.DB) *Watchdog {
	stuckAfter := time.Duration(envMinutes("WATCHDOG_STUCK_AFTER_MINUTES", defaultStuckAfterMinutes)) * time.Minute
	sweepInterval := time.Duration(envMinutes("WATCHDOG_SWEEP_INTERVAL_MINUTES", defaultSweepIntervalMinutes)) * time.Minute
	return NewWatchdog(
		repository.NewGenerationRepository(db),
		generation.NewTrackerFromDB(db, events.LogSink{}),
		stuckAfter,
		sweepInterval,
	)
}

// SweepInterval returns how often the manager should run Sweep.
func (w *Watchdog) SweepInterval() time.Duration {
	return w.sweepInterval
}

// Sweep fails every generation stuck past the deadline and returns how many
// it swept. A single failing row does not stop the batch.
func (w *Watchdog) Sweep() (int, error) {
	cutoff := w.now().Add(-w.stuckAfter)
	stuck, err := w.generations.ListStuck(
		[]string{models.GenerationStatusStarting, models.GenerationStatusProcessing},
		cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	swept := 0
	for i := range stuck {
		gen := stuck[i]
		applied, err := w.tracker.MarkFailed(ctx, &gen, "provider did not report a result in time")
		if err != nil {
			log.Printf("[Watchdog] OPERATOR: could not fail stuck generation %s: %v", gen.UUID, err)
			continue
		}
		if applied {
			swept++
		}
	}
	return swept, nil
}

func envMinutes(key string, fallback int) int {
	if raw := env.GetEnv(key, ""); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
