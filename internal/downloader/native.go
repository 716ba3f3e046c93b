package downloader

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"ytdl-server/internal/errors"
)

// reportEvery bounds how often byte progress is pushed to the sink.
const reportEvery = 250 * time.Millisecond

// NativeEngine resolves streams with kkdai/youtube, downloads the video and
// audio tracks in parallel into tempDir and muxes them with ffmpeg.
type NativeEngine struct {
	client  youtube.Client
	tempDir string
	ffmpeg  string
	logger  *zap.SugaredLogger
}

func NewNativeEngine(tempDir, ffmpeg string, logger *zap.SugaredLogger) *NativeEngine {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &NativeEngine{
		tempDir: tempDir,
		ffmpeg:  ffmpeg,
		logger:  logger.Named("native"),
	}
}

func (e *NativeEngine) Fetch(ctx context.Context, req Request, sink Sink) error {
	video, err := e.client.GetVideoContext(ctx, req.VideoID)
	if err != nil {
		return wrapError(errors.Wrap(err, "video info"))
	}

	videoExt, audioExt := StreamExts(req.Container)
	videoFormat := selectVideoFormat(video.Formats, videoExt, req.Resolution)
	audioFormat := selectAudioFormat(video.Formats, audioExt, req.AudioBitrate)
	if videoFormat == nil || audioFormat == nil {
		return errors.Newf("no %s video/%s audio streams for %s", videoExt, audioExt, req.VideoID)
	}

	base := strings.TrimSuffix(filepath.Base(req.OutputPath), filepath.Ext(req.OutputPath))
	videoTemp := filepath.Join(e.tempDir, "v_"+base+"."+videoExt)
	audioTemp := filepath.Join(e.tempDir, "a_"+base+"."+audioExt)
	defer os.Remove(videoTemp)
	defer os.Remove(audioTemp)

	tracker := newByteTracker(videoFormat.ContentLength+audioFormat.ContentLength, sink, time.Now())

	var wg sync.WaitGroup
	var errV, errA error
	wg.Add(2)
	go func() {
		defer wg.Done()
		errV = e.downloadStream(ctx, video, videoFormat, videoTemp, tracker.add)
	}()
	go func() {
		defer wg.Done()
		errA = e.downloadStream(ctx, video, audioFormat, audioTemp, tracker.add)
	}()
	wg.Wait()

	if errV != nil {
		return wrapError(errors.Wrap(errV, "video stream"))
	}
	if errA != nil {
		return wrapError(errors.Wrap(errA, "audio stream"))
	}

	tracker.flush()
	sink(Event{Phase: PhaseFinished, Downloaded: tracker.downloaded()})

	cmd := exec.CommandContext(ctx, e.ffmpeg, "-y", "-hide_banner", "-loglevel", "error",
		"-i", videoTemp, "-i", audioTemp, "-c", "copy", req.OutputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return wrapError(errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(string(out))))
	}

	if info, err := os.Stat(req.OutputPath); err != nil || info.Size() == 0 {
		return errors.New("generated file is empty")
	}

	e.logger.Debugw("Merged streams", "video_itag", videoFormat.ItagNo, "audio_itag", audioFormat.ItagNo, "output", req.OutputPath)
	return nil
}

func (e *NativeEngine) downloadStream(ctx context.Context, v *youtube.Video, f *youtube.Format, path string, cb func(int)) error {
	stream, _, err := e.client.GetStreamContext(ctx, v, f)
	if err != nil {
		return err
	}
	defer stream.Close()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return werr
			}
			cb(n)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// byteTracker sums bytes from both stream goroutines and emits throttled
// downloading events.
type byteTracker struct {
	mu         sync.Mutex
	total      int64
	current    int64
	started    time.Time
	lastReport time.Time
	sink       Sink
	now        func() time.Time
}

func newByteTracker(total int64, sink Sink, started time.Time) *byteTracker {
	return &byteTracker{total: total, sink: sink, started: started, now: time.Now}
}

func (t *byteTracker) add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current += int64(n)
	now := t.now()
	if now.Sub(t.lastReport) < reportEvery {
		return
	}
	t.lastReport = now
	t.sink(t.event(now))
}

// flush emits the final byte count regardless of throttling.
func (t *byteTracker) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink(t.event(t.now()))
}

func (t *byteTracker) downloaded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// event must be called with mu held.
func (t *byteTracker) event(now time.Time) Event {
	ev := Event{Phase: PhaseDownloading, Downloaded: t.current}
	if t.total > 0 {
		total := t.total
		ev.Total = &total
	}
	if elapsed := now.Sub(t.started).Seconds(); elapsed > 0 && t.current > 0 {
		speed := float64(t.current) / elapsed
		ev.Speed = &speed
		if t.total > t.current {
			eta := int64(float64(t.total-t.current) / speed)
			ev.ETA = &eta
		}
	}
	return ev
}

// selectVideoFormat picks the tallest video-only stream of the given
// extension within the height cap, or the shortest one when none fit.
func selectVideoFormat(formats youtube.FormatList, ext string, maxHeight int) *youtube.Format {
	var best, smallest *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !hasMime(f, "video/"+ext) || f.AudioChannels > 0 {
			continue
		}
		if smallest == nil || f.Height < smallest.Height {
			smallest = f
		}
		if maxHeight > 0 && f.Height > maxHeight {
			continue
		}
		if best == nil || f.Height > best.Height || (f.Height == best.Height && f.Bitrate > best.Bitrate) {
			best = f
		}
	}
	if best == nil {
		return smallest
	}
	return best
}

// selectAudioFormat picks the highest bitrate audio stream of the given
// container within maxKbps, or the leanest one when none fit.
func selectAudioFormat(formats youtube.FormatList, ext string, maxKbps int) *youtube.Format {
	mime := "audio/" + ext
	if ext == "m4a" {
		mime = "audio/mp4"
	}

	var best, leanest *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !hasMime(f, mime) {
			continue
		}
		if leanest == nil || f.Bitrate < leanest.Bitrate {
			leanest = f
		}
		if maxKbps > 0 && f.Bitrate/1000 > maxKbps {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil {
		return leanest
	}
	return best
}

func hasMime(f *youtube.Format, prefix string) bool {
	return strings.HasPrefix(f.MimeType, prefix)
}

// wrapError adds a readable classification in front of common failures so
// the job's error detail tells the client what happened.
func wrapError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission denied"):
		return errors.Wrap(err, "storage permission denied")
	case strings.Contains(msg, "no space left"):
		return errors.Wrap(err, "disk space exhausted")
	case strings.Contains(msg, "ffmpeg"):
		return errors.Wrap(err, "media processing failed")
	case strings.Contains(msg, "cipher") || strings.Contains(msg, "signature"):
		return errors.Wrap(err, "source restricted access to this video")
	case strings.Contains(msg, "403"):
		return errors.Wrap(err, "access forbidden by source")
	default:
		return err
	}
}
