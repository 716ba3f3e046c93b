package jobs

import (
	"context"
	"time"

	"ytdl-server/internal/errors"
	"ytdl-server/internal/models"
)

// Waiter lets a synchronous caller block until a job is terminal by polling
// the registry. Giving up on a wait never touches the job.
type Waiter struct {
	registry *Registry
	interval time.Duration
}

func NewWaiter(registry *Registry, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Waiter{registry: registry, interval: interval}
}

// Wait returns the artifact path once token is done. A failed job yields
// ErrEngineFailure carrying the engine's detail, a purged one ErrGone.
func (w *Waiter) Wait(ctx context.Context, token string) (string, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		job, ok := w.registry.Get(token)
		if !ok {
			return "", errors.Wrapf(errors.ErrGone, "token %s", token)
		}
		switch job.Status {
		case models.StatusDone:
			return job.OutputPath, nil
		case models.StatusError:
			return "", errors.WithDetail(errors.Wrap(errors.ErrEngineFailure, job.ErrorDetail), job.ErrorDetail)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
