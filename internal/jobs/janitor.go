package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ytdl-server/internal/config"
)

// Janitor periodically drops quota entries from past days and engine temp
// files older than TempMaxAge.
type Janitor struct {
	cron    *cron.Cron
	limiter *RateLimiter
	tempDir string
	maxAge  time.Duration
	logger  *zap.SugaredLogger
	timeNow func() time.Time

	sweeps []namedSweep
}

type namedSweep struct {
	name string
	fn   func() int
}

func NewJanitor(cfg *config.Config, limiter *RateLimiter, logger *zap.SugaredLogger) *Janitor {
	return &Janitor{
		cron:    cron.New(),
		limiter: limiter,
		tempDir: cfg.Storage.TempDir,
		maxAge:  cfg.Janitor.TempMaxAge,
		logger:  logger.Named("janitor"),
		timeNow: time.Now,
	}
}

// Start schedules Run (standard cron syntax or descriptors such as
// "@every 1h") and starts the scheduler.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Infow("Janitor scheduled", "schedule", schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Register adds a sweep to every run. fn returns how many items it removed.
// Call before Start.
func (j *Janitor) Register(name string, fn func() int) {
	j.sweeps = append(j.sweeps, namedSweep{name: name, fn: fn})
}

// Run performs one sweep.
func (j *Janitor) Run() {
	fields := []interface{}{
		"clients_removed", j.limiter.Sweep(),
		"temp_files_removed", j.cleanTemp(),
	}
	for _, s := range j.sweeps {
		fields = append(fields, s.name, s.fn())
	}
	j.logger.Debugw("Janitor sweep finished", fields...)
}

func (j *Janitor) cleanTemp() int {
	if j.tempDir == "" || j.maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(j.tempDir)
	if err != nil {
		j.logger.Warnw("Could not read temp dir", "dir", j.tempDir, "error", err)
		return 0
	}

	cutoff := j.timeNow().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.tempDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
