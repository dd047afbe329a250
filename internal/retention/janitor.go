// Package retention implements the optional conversation retention policy.
// A cron-scheduled janitor deletes conversations whose last activity is
// older than the configured age. Retention is off unless explicitly
// configured; nothing is ever deleted by default.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the janitor once a day at 03:00.
const DefaultSchedule = "0 3 * * *"

// Purger deletes conversations older than a cutoff and reports how many
// were removed.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the janitor.
type Config struct {
	// MaxAge is the retention window. Zero disables the janitor entirely.
	MaxAge time.Duration
	// Schedule is a standard 5-field cron expression. Empty uses DefaultSchedule.
	Schedule string
	// CycleTimeout caps one purge cycle. Default 5m.
	CycleTimeout time.Duration
}

// Janitor runs the retention policy on a cron schedule.
type Janitor struct {
	purger  Purger
	cfg     Config
	logger  *slog.Logger
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewJanitor creates a janitor. Returns an error when the schedule does
// not parse; a zero MaxAge is valid and produces a janitor whose Start is
// a no-op.
func NewJanitor(purger Purger, cfg Config, logger *slog.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 5 * time.Minute
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		purger: purger,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
	}, nil
}

// Start schedules the janitor. A zero MaxAge means retention is disabled
// and nothing is scheduled.
func (j *Janitor) Start() error {
	if j.cfg.MaxAge <= 0 {
		j.logger.Info("retention disabled, janitor not scheduled")
		return nil
	}
	id, err := j.cron.AddFunc(j.cfg.Schedule, j.runCycle)
	if err != nil {
		return fmt.Errorf("scheduling retention janitor: %w", err)
	}
	j.entryID = id
	j.cron.Start()
	j.logger.Info("retention janitor scheduled",
		slog.String("schedule", j.cfg.Schedule),
		slog.Duration("max_age", j.cfg.MaxAge),
	)
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes a single purge cycle immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if j.cfg.MaxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-j.cfg.MaxAge)
	return j.purger.PurgeOlderThan(ctx, cutoff)
}

func (j *Janitor) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	purged, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("retention cycle failed", slog.String("error", err.Error()))
		return
	}
	j.logger.Info("retention cycle complete",
		slog.Int64("purged", purged),
		slog.Duration("took", time.Since(start)),
	)
}
