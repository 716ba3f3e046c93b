// Package jobs owns the lifecycle of fetch jobs: admission, bounded
// execution, progress, blocking waits and reclamation.
package jobs

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ytdl-server/internal/config"
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/errors"
	"ytdl-server/internal/models"
)

// Caller tokens become file names, so they are held to a safe charset.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager is the entry point the transport talks to.
type Manager struct {
	cfg      *config.Config
	registry *Registry
	limiter  *RateLimiter
	expiry   *ExpiryScheduler
	pool     *WorkerPool
	waiter   *Waiter
	logger   *zap.SugaredLogger
	timeNow  func() time.Time
}

func NewManager(cfg *config.Config, engine downloader.Engine, logger *zap.SugaredLogger) *Manager {
	registry := NewRegistry()
	expiry := NewExpiryScheduler(registry, logger)
	pool := NewWorkerPool(cfg.Workers.MaxParallel, engine, registry, expiry,
		cfg.Retention, cfg.Storage.DownloadDir, logger)
	return &Manager{
		cfg:      cfg,
		registry: registry,
		limiter:  NewRateLimiter(cfg.Limits.DailyQuota),
		expiry:   expiry,
		pool:     pool,
		waiter:   NewWaiter(registry, cfg.Poll.Interval),
		logger:   logger.Named("jobs"),
		timeNow:  time.Now,
	}
}

// NewToken returns a random 32-character hex token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit validates req, charges the owner's quota and schedules the job.
// The returned snapshot is the queued record.
func (m *Manager) Submit(req models.SubmitRequest) (models.Job, error) {
	subject, err := m.normalize(req.Subject)
	if err != nil {
		return models.Job{}, err
	}

	token := req.Token
	if token == "" {
		token = NewToken()
	} else if !tokenPattern.MatchString(token) {
		return models.Job{}, errors.NewBadRequest("invalid token %q", token)
	}

	if !m.limiter.Admit(req.Owner) {
		return models.Job{}, errors.WithHintf(errors.ErrRateLimited,
			"limit is %d requests per day", m.cfg.Limits.DailyQuota)
	}

	job := models.NewJob(token, req.Owner, subject, m.timeNow())
	if err := m.registry.Create(job); err != nil {
		m.limiter.Release(req.Owner)
		return models.Job{}, err
	}
	snapshot := job.Clone()

	m.pool.Submit(token, subject)
	m.logger.Infow("Job queued", "token", token, "owner", req.Owner, "video_id", subject.VideoID,
		"format", subject.Container, "res", subject.Resolution, "audio", subject.AudioBitrate)
	return snapshot, nil
}

func (m *Manager) normalize(s models.Subject) (models.Subject, error) {
	s.VideoID = strings.TrimSpace(s.VideoID)
	if s.VideoID == "" {
		return s, errors.NewBadRequest("missing video id")
	}
	if s.Container == "" {
		s.Container = m.cfg.Defaults.Container
	}
	if !config.IsContainer(s.Container) {
		return s, errors.NewBadRequest("invalid format %q", s.Container)
	}
	if s.AudioBitrate == 0 {
		s.AudioBitrate = m.cfg.Defaults.AudioBitrate
	}
	if s.AudioBitrate < 0 {
		return s, errors.NewBadRequest("invalid audio bitrate %d", s.AudioBitrate)
	}
	if s.Resolution < 0 {
		return s, errors.NewBadRequest("invalid resolution %d", s.Resolution)
	}
	return s, nil
}

// Progress returns the record for token if owner may read it.
func (m *Manager) Progress(token, owner string) (models.Job, error) {
	job, ok := m.registry.Get(token)
	if !ok {
		return models.Job{}, errors.Wrapf(errors.ErrNotFound, "token %s", token)
	}
	if job.Owner != owner {
		return models.Job{}, errors.Wrapf(errors.ErrForbidden, "token %s", token)
	}
	return job, nil
}

// Retrieve returns the finished record for token. Absent tokens are gone,
// foreign ones forbidden, unfinished ones not ready.
func (m *Manager) Retrieve(token, owner string) (models.Job, error) {
	job, ok := m.registry.Get(token)
	if !ok {
		return models.Job{}, errors.Wrapf(errors.ErrGone, "token %s", token)
	}
	if job.Owner != owner {
		return models.Job{}, errors.Wrapf(errors.ErrForbidden, "token %s", token)
	}
	if job.Status != models.StatusDone {
		return models.Job{}, errors.Wrapf(errors.ErrNotReady, "token %s is %s", token, job.Status)
	}
	return job, nil
}

// Wait blocks until token is terminal or ctx ends.
func (m *Manager) Wait(ctx context.Context, token string) (string, error) {
	return m.waiter.Wait(ctx, token)
}

// Remaining is the owner's quota left today.
func (m *Manager) Remaining(owner string) int {
	return m.limiter.Remaining(owner)
}

// SweepDownloads removes download-dir leftovers of jobs that are no longer
// live and older than retention.file_delete.
func (m *Manager) SweepDownloads() int {
	return m.expiry.SweepOrphans(m.cfg.Storage.DownloadDir, m.cfg.Retention.FileDelete)
}

// Limiter exposes the quota table to the janitor.
func (m *Manager) Limiter() *RateLimiter {
	return m.limiter
}

// Stats is a point-in-time view for health checks.
type Stats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Waiting int `json:"waiting"`
	Jobs    int `json:"jobs"`
	Clients int `json:"clients"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		Workers: m.pool.Workers(),
		Active:  m.pool.Active(),
		Waiting: m.pool.Waiting(),
		Jobs:    m.registry.Len(),
		Clients: m.limiter.Len(),
	}
}

// Shutdown stops the pool; see WorkerPool.Shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.pool.Shutdown(ctx)
}
