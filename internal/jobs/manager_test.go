package jobs

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ytdl-server/internal/config"
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/errors"
	"ytdl-server/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Storage:   config.StorageConfig{DownloadDir: dir, TempDir: dir},
		Limits:    config.LimitsConfig{DailyQuota: 10},
		Workers:   config.WorkersConfig{MaxParallel: 2},
		Retention: config.RetentionConfig{TokenExpire: time.Minute, FileDelete: 2 * time.Minute},
		Defaults:  config.DefaultsConfig{AudioBitrate: 192, Container: "mp4"},
		Poll:      config.PollConfig{Interval: 5 * time.Millisecond},
	}
}

// writingEngine emits a short progress sequence and writes a small file.
func writingEngine(calls *atomic.Int64) downloader.Engine {
	return downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		if calls != nil {
			calls.Add(1)
		}
		total := int64(4)
		sink(downloader.Event{Phase: downloader.PhaseDownloading, Downloaded: 2, Total: &total})
		sink(downloader.Event{Phase: downloader.PhaseFinished, Downloaded: 4})
		return os.WriteFile(req.OutputPath, []byte("data"), 0o644)
	})
}

func submit(t *testing.T, m *Manager, owner, token string) models.Job {
	t.Helper()
	job, err := m.Submit(models.SubmitRequest{
		Subject: models.Subject{VideoID: "abc123"},
		Token:   token,
		Owner:   owner,
	})
	require.NoError(t, err)
	return job
}

func TestManager_SuccessLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention = config.RetentionConfig{TokenExpire: 100 * time.Millisecond, FileDelete: 200 * time.Millisecond}
	m := NewManager(cfg, writingEngine(nil), zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Len(t, job.Token, 32)
	assert.Equal(t, "mp4", job.Subject.Container)
	assert.Equal(t, 192, job.Subject.AudioBitrate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	path, err := m.Wait(ctx, job.Token)
	require.NoError(t, err)
	assert.FileExists(t, path)

	done, err := m.Retrieve(job.Token, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, path, done.OutputPath)
	assert.Equal(t, 100.0, done.Progress.Percent)

	// token goes first, file a little later
	assert.Eventually(t, func() bool {
		_, err := m.Progress(job.Token, "1.1.1.1")
		return errors.Is(err, errors.ErrNotFound)
	}, time.Second, 10*time.Millisecond)
	_, err = m.Retrieve(job.Token, "1.1.1.1")
	assert.True(t, errors.Is(err, errors.ErrGone))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EngineFailure(t *testing.T) {
	cfg := testConfig(t)
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		return errors.New("video unavailable")
	})
	m := NewManager(cfg, engine, zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")

	_, err := m.Wait(context.Background(), job.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEngineFailure))

	got, err := m.Progress(job.Token, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "video unavailable", got.ErrorDetail)
	assert.Empty(t, got.OutputPath)

	_, err = m.Retrieve(job.Token, "1.1.1.1")
	assert.True(t, errors.Is(err, errors.ErrNotReady))
}

func TestManager_EnginePanicFailsJob(t *testing.T) {
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		panic("boom")
	})
	m := NewManager(testConfig(t), engine, zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	_, err := m.Wait(context.Background(), job.Token)
	assert.True(t, errors.Is(err, errors.ErrEngineFailure))
}

func TestManager_QuotaExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.DailyQuota = 2
	var calls atomic.Int64
	m := NewManager(cfg, writingEngine(&calls), zaptest.NewLogger(t).Sugar())

	submit(t, m, "9.9.9.9", "")
	submit(t, m, "9.9.9.9", "")
	_, err := m.Submit(models.SubmitRequest{Subject: models.Subject{VideoID: "abc123"}, Owner: "9.9.9.9"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	assert.Equal(t, 0, m.Remaining("9.9.9.9"))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.Stats().Jobs)
}

func TestManager_TokenConflictKeepsQuota(t *testing.T) {
	cfg := testConfig(t)
	release := make(chan struct{})
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		<-release
		return nil
	})
	m := NewManager(cfg, engine, zaptest.NewLogger(t).Sugar())
	defer close(release)

	submit(t, m, "1.1.1.1", "mytoken")
	before := m.Remaining("2.2.2.2")

	_, err := m.Submit(models.SubmitRequest{Subject: models.Subject{VideoID: "abc123"}, Token: "mytoken", Owner: "2.2.2.2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, before, m.Remaining("2.2.2.2"))
}

func TestManager_Ownership(t *testing.T) {
	m := NewManager(testConfig(t), writingEngine(nil), zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	_, err := m.Wait(context.Background(), job.Token)
	require.NoError(t, err)

	_, err = m.Progress(job.Token, "6.6.6.6")
	assert.True(t, errors.Is(err, errors.ErrForbidden))
	_, err = m.Retrieve(job.Token, "6.6.6.6")
	assert.True(t, errors.Is(err, errors.ErrForbidden))
}

func TestManager_Validation(t *testing.T) {
	m := NewManager(testConfig(t), writingEngine(nil), zaptest.NewLogger(t).Sugar())

	tests := []struct {
		name string
		req  models.SubmitRequest
	}{
		{"missing video", models.SubmitRequest{Owner: "c"}},
		{"bad container", models.SubmitRequest{Subject: models.Subject{VideoID: "abc123", Container: "avi"}, Owner: "c"}},
		{"negative res", models.SubmitRequest{Subject: models.Subject{VideoID: "abc123", Resolution: -1}, Owner: "c"}},
		{"negative audio", models.SubmitRequest{Subject: models.Subject{VideoID: "abc123", AudioBitrate: -5}, Owner: "c"}},
		{"path token", models.SubmitRequest{Subject: models.Subject{VideoID: "abc123"}, Token: "../etc", Owner: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBadRequest))
		})
	}

	// rejected submissions never consume quota
	assert.Equal(t, 10, m.Remaining("c"))
}

func TestManager_BoundedConcurrency(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.MaxParallel = 2

	var running, peak atomic.Int64
	release := make(chan struct{})
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})
	m := NewManager(cfg, engine, zaptest.NewLogger(t).Sugar())

	var tokens []string
	for i := 0; i < 5; i++ {
		tokens = append(tokens, submit(t, m, "1.1.1.1", "").Token)
	}

	assert.Eventually(t, func() bool {
		s := m.Stats()
		return s.Active == 2 && s.Waiting == 3
	}, time.Second, 5*time.Millisecond)

	close(release)

	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			_, err := m.Wait(context.Background(), tok)
			assert.NoError(t, err)
		}(tok)
	}
	wg.Wait()

	assert.Equal(t, int64(2), peak.Load())
	assert.Equal(t, 0, m.Stats().Active)
}

func TestManager_WaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		<-release
		return os.WriteFile(req.OutputPath, []byte("x"), 0o644)
	})
	m := NewManager(testConfig(t), engine, zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Wait(ctx, job.Token)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the job itself carries on
	close(release)
	_, err = m.Wait(context.Background(), job.Token)
	assert.NoError(t, err)
}

func TestManager_WaitUnknownToken(t *testing.T) {
	m := NewManager(testConfig(t), writingEngine(nil), zaptest.NewLogger(t).Sugar())

	_, err := m.Wait(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrGone))
}

func TestManager_ShutdownFailsQueued(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.MaxParallel = 1
	release := make(chan struct{})
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		select {
		case <-release:
			return os.WriteFile(req.OutputPath, []byte("x"), 0o644)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	m := NewManager(cfg, engine, zaptest.NewLogger(t).Sugar())

	first := submit(t, m, "1.1.1.1", "")
	assert.Eventually(t, func() bool { return m.Stats().Active == 1 }, time.Second, 5*time.Millisecond)
	second := submit(t, m, "1.1.1.1", "")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, m.Shutdown(context.Background()))

	got, _ := m.Progress(first.Token, "1.1.1.1")
	assert.Equal(t, models.StatusDone, got.Status)
	got, _ = m.Progress(second.Token, "1.1.1.1")
	assert.Equal(t, models.StatusError, got.Status)
}

func TestManager_RepeatRetrieveBeforeExpiry(t *testing.T) {
	m := NewManager(testConfig(t), writingEngine(nil), zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	_, err := m.Wait(context.Background(), job.Token)
	require.NoError(t, err)

	first, err := m.Retrieve(job.Token, "1.1.1.1")
	require.NoError(t, err)
	second, err := m.Retrieve(job.Token, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, first.OutputPath, second.OutputPath)
	assert.FileExists(t, second.OutputPath)
}

func TestManager_FailedJobEvictedWithoutFileTimer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention = config.RetentionConfig{TokenExpire: 20 * time.Millisecond, FileDelete: 40 * time.Millisecond}
	var partial string
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		partial = req.OutputPath
		if err := os.WriteFile(req.OutputPath, []byte("da"), 0o644); err != nil {
			return err
		}
		return errors.New("connection reset")
	})
	m := NewManager(cfg, engine, zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	_, err := m.Wait(context.Background(), job.Token)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Progress(job.Token, "1.1.1.1")
		return errors.Is(err, errors.ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	// well past file_delete, the partial output is still there
	time.Sleep(80 * time.Millisecond)
	assert.FileExists(t, partial)

	assert.Equal(t, 1, m.SweepDownloads())
	assert.NoFileExists(t, partial)
}

func TestManager_TokenReuseKeepsNewArtifact(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention = config.RetentionConfig{TokenExpire: 200 * time.Millisecond, FileDelete: 240 * time.Millisecond}
	m := NewManager(cfg, writingEngine(nil), zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	submit(t, m, "1.1.1.1", "reuse")
	_, err := m.Wait(ctx, "reuse")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := m.Progress("reuse", "1.1.1.1")
		return errors.Is(err, errors.ErrNotFound)
	}, time.Second, 2*time.Millisecond)

	submit(t, m, "1.1.1.1", "reuse")
	path, err := m.Wait(ctx, "reuse")
	require.NoError(t, err)

	// the first job's file timer fires in here
	time.Sleep(100 * time.Millisecond)

	job, err := m.Retrieve("reuse", "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, path, job.OutputPath)
	assert.FileExists(t, job.OutputPath)
}

func TestManager_EmptyEngineErrorGetsDetail(t *testing.T) {
	engine := downloader.EngineFunc(func(ctx context.Context, req downloader.Request, sink downloader.Sink) error {
		return errors.New("")
	})
	m := NewManager(testConfig(t), engine, zaptest.NewLogger(t).Sugar())

	job := submit(t, m, "1.1.1.1", "")
	_, err := m.Wait(context.Background(), job.Token)
	require.Error(t, err)

	got, err := m.Progress(job.Token, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, errors.ErrEngineFailure.Error(), got.ErrorDetail)
}
