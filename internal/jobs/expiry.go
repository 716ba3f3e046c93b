package jobs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExpiryScheduler arms one-shot timers that reclaim a finished job's
// registry entry and artifact. Timers are independent and never cancelled.
type ExpiryScheduler struct {
	registry *Registry
	logger   *zap.SugaredLogger
}

func NewExpiryScheduler(registry *Registry, logger *zap.SugaredLogger) *ExpiryScheduler {
	return &ExpiryScheduler{registry: registry, logger: logger.Named("expiry")}
}

// ArmTokenExpiry removes token from the registry after delay.
func (s *ExpiryScheduler) ArmTokenExpiry(token string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.registry.Remove(token)
		s.logger.Debugw("Token expired", "token", token)
	})
}

// ArmFileDeletion deletes token's artifact at path after delay. If token is
// live again by then, path belongs to the newer job and is left alone; the
// orphan sweep reclaims it if that job never finishes. Failures, including a
// file that is already gone, are ignored.
func (s *ExpiryScheduler) ArmFileDeletion(token, path string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if s.registry.Live(token) {
			s.logger.Debugw("Artifact kept, token reused", "token", token, "path", path)
			return
		}
		if err := os.Remove(path); err != nil {
			s.logger.Debugw("Artifact removal skipped", "path", path, "error", err)
			return
		}
		s.logger.Debugw("Artifact removed", "path", path)
	})
}

// SweepOrphans removes files in dir older than maxAge whose token has no
// live record: partial outputs of failed jobs and engine fragments such as
// "<token>.f137.mp4" or "<token>.mp4.part". It returns how many went.
func (s *ExpiryScheduler) SweepOrphans(dir string, maxAge time.Duration) int {
	if dir == "" || maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warnw("Could not read download dir", "dir", dir, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		token, _, _ := strings.Cut(entry.Name(), ".")
		if s.registry.Live(token) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
