package jobs

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ytdl-server/internal/config"
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/errors"
	"ytdl-server/internal/models"
)

// WorkerPool runs accepted jobs with at most `workers` engines in flight.
// Submit never rejects: each job gets a goroutine that blocks on the
// semaphore until a slot frees up.
type WorkerPool struct {
	sem         chan struct{}
	wg          sync.WaitGroup
	engine      downloader.Engine
	registry    *Registry
	expiry      *ExpiryScheduler
	retention   config.RetentionConfig
	downloadDir string
	logger      *zap.SugaredLogger

	// ctx is handed to engines; it is cancelled only when Shutdown gives up
	// waiting.
	ctx    context.Context
	cancel context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once

	active  atomic.Int64
	waiting atomic.Int64
}

func NewWorkerPool(workers int, engine downloader.Engine, registry *Registry, expiry *ExpiryScheduler,
	retention config.RetentionConfig, downloadDir string, logger *zap.SugaredLogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:         make(chan struct{}, workers),
		engine:      engine,
		registry:    registry,
		expiry:      expiry,
		retention:   retention,
		downloadDir: downloadDir,
		logger:      logger.Named("pool"),
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
	}
}

// Submit schedules the job for token.
func (p *WorkerPool) Submit(token string, subject models.Subject) {
	p.wg.Add(1)
	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-p.stop:
			p.waiting.Add(-1)
			p.fail(token, errors.New("server shutting down"))
			return
		default:
		}

		select {
		case p.sem <- struct{}{}:
			p.waiting.Add(-1)
			p.active.Add(1)
			defer func() {
				p.active.Add(-1)
				<-p.sem
			}()
			p.run(token, subject)
		case <-p.stop:
			p.waiting.Add(-1)
			p.fail(token, errors.New("server shutting down"))
		}
	}()
}

func (p *WorkerPool) run(token string, subject models.Subject) {
	req := downloader.Request{
		VideoID:      subject.VideoID,
		Container:    subject.Container,
		Resolution:   subject.Resolution,
		AudioBitrate: subject.AudioBitrate,
		Format:       downloader.BuildFormat(subject.Resolution, subject.AudioBitrate, subject.Container),
		OutputPath:   downloader.OutputPath(p.downloadDir, token, subject.Container),
	}
	p.logger.Infow("Job started", "token", token, "video_id", subject.VideoID, "format", req.Format)

	// a reused token may still have the previous job's artifact here
	if err := os.Remove(req.OutputPath); err == nil {
		p.logger.Debugw("Removed stale artifact", "token", token, "path", req.OutputPath)
	}

	if err := p.fetch(req, NewProgressBridge(p.registry, token)); err != nil {
		p.fail(token, err)
		return
	}

	p.registry.Mutate(token, func(job *models.Job) {
		job.Complete(req.OutputPath)
	})
	p.expiry.ArmTokenExpiry(token, p.retention.TokenExpire)
	p.expiry.ArmFileDeletion(token, req.OutputPath, p.retention.FileDelete)
	p.logger.Infow("Job finished", "token", token, "output", req.OutputPath)
}

// fetch runs the engine, turning a panic into an ordinary failure so the
// job still reaches a terminal state.
func (p *WorkerPool) fetch(req downloader.Request, bridge *ProgressBridge) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("engine panic: %v", r)
		}
	}()
	return p.engine.Fetch(p.ctx, req, bridge.Sink())
}

func (p *WorkerPool) fail(token string, err error) {
	detail := err.Error()
	if detail == "" {
		detail = errors.ErrEngineFailure.Error()
	}
	p.registry.Mutate(token, func(job *models.Job) {
		job.Fail(detail)
	})
	p.expiry.ArmTokenExpiry(token, p.retention.TokenExpire)
	p.logger.Warnw("Job failed", "token", token, "error", detail)
}

// Shutdown fails queued jobs and waits for running ones. When ctx ends
// first, in-flight engines are cancelled and ctx.Err() is returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Workers is the concurrency cap.
func (p *WorkerPool) Workers() int { return cap(p.sem) }

// Active is the number of engines running now.
func (p *WorkerPool) Active() int { return int(p.active.Load()) }

// Waiting is the number of accepted jobs not yet holding a slot.
func (p *WorkerPool) Waiting() int { return int(p.waiting.Load()) }
