package downloader

import (
	"context"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"
)

// progressInterval throttles how often yt-dlp progress reaches the sink.
const progressInterval = 500 * time.Millisecond

// YTDLPEngine drives the yt-dlp binary through go-ytdlp. yt-dlp performs
// format selection, fragment retries and the ffmpeg merge itself.
type YTDLPEngine struct {
	ffmpeg string
	logger *zap.SugaredLogger
}

// NewYTDLPEngine returns an engine using the yt-dlp found on PATH. ffmpeg,
// when not the bare "ffmpeg", is passed as --ffmpeg-location.
func NewYTDLPEngine(ffmpeg string, logger *zap.SugaredLogger) *YTDLPEngine {
	return &YTDLPEngine{ffmpeg: ffmpeg, logger: logger.Named("ytdlp")}
}

func (e *YTDLPEngine) Fetch(ctx context.Context, req Request, sink Sink) error {
	dl := ytdlp.New().
		Format(req.Format).
		MergeOutputFormat(req.Container).
		Output(req.OutputPath).
		NoPlaylist().
		ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			if ev, ok := eventFromUpdate(update, time.Now()); ok {
				sink(ev)
			}
		})
	if e.ffmpeg != "" && e.ffmpeg != "ffmpeg" {
		dl = dl.FFmpegLocation(e.ffmpeg)
	}

	e.logger.Debugw("Starting yt-dlp", "url", req.URL(), "format", req.Format, "output", req.OutputPath)
	if _, err := dl.Run(ctx, req.URL()); err != nil {
		return wrapError(err)
	}
	return nil
}

// eventFromUpdate maps a yt-dlp progress line onto an Event. Starting and
// error lines carry nothing the job record needs.
func eventFromUpdate(update ytdlp.ProgressUpdate, now time.Time) (Event, bool) {
	switch update.Status {
	case ytdlp.ProgressStatusDownloading:
		ev := Event{Phase: PhaseDownloading, Downloaded: int64(update.DownloadedBytes)}
		if update.TotalBytes > 0 {
			total := int64(update.TotalBytes)
			ev.Total = &total
		}
		if !update.Started.IsZero() {
			if elapsed := now.Sub(update.Started).Seconds(); elapsed > 0 {
				speed := float64(update.DownloadedBytes) / elapsed
				ev.Speed = &speed
			}
		}
		if eta := update.ETA(); eta > 0 {
			secs := int64(eta.Seconds())
			ev.ETA = &secs
		}
		return ev, true
	case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
		return Event{Phase: PhaseFinished, Downloaded: int64(update.DownloadedBytes)}, true
	default:
		return Event{}, false
	}
}
