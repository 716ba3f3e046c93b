package jobs

import (
	"sync"

	"ytdl-server/internal/errors"
	"ytdl-server/internal/models"
)

// Registry is the token-addressed store of live jobs. Every read hands out
// a copy; callers never hold pointers into the map.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*models.Job)}
}

// Create inserts job unless its token is already live.
func (r *Registry) Create(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.Token]; ok {
		return errors.Wrapf(errors.ErrConflict, "token %s", job.Token)
	}
	r.jobs[job.Token] = job
	return nil
}

// Mutate applies fn to the live record for token under the lock. It returns
// false, without calling fn, when the token is not live.
func (r *Registry) Mutate(token string, fn func(*models.Job)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[token]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// Get returns a snapshot of the record for token.
func (r *Registry) Get(token string) (models.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[token]
	if !ok {
		return models.Job{}, false
	}
	return job.Clone(), true
}

// Live reports whether token has a record.
func (r *Registry) Live(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[token]
	return ok
}

// Remove deletes token. Removing an absent token is a no-op.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, token)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
