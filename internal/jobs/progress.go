package jobs

import (
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/models"
)

// ProgressBridge turns engine events into registry mutations for one token.
// Events for a purged token are dropped.
type ProgressBridge struct {
	registry *Registry
	token    string
}

func NewProgressBridge(registry *Registry, token string) *ProgressBridge {
	return &ProgressBridge{registry: registry, token: token}
}

// Sink returns the bridge as a downloader.Sink.
func (b *ProgressBridge) Sink() downloader.Sink {
	return b.Handle
}

// Handle applies one event.
func (b *ProgressBridge) Handle(ev downloader.Event) {
	b.registry.Mutate(b.token, func(job *models.Job) {
		if job.Status.IsTerminal() {
			return
		}
		switch ev.Phase {
		case downloader.PhaseDownloading:
			job.Advance(models.StatusDownloading)
			job.Progress = models.Progress{
				DownloadedBytes: ev.Downloaded,
				TotalBytes:      ev.Total,
				Speed:           ev.Speed,
				ETA:             ev.ETA,
				Percent:         models.Percentage(ev.Downloaded, ev.Total),
			}
		case downloader.PhaseFinished:
			job.Advance(models.StatusProcessing)
			job.Progress.Percent = 100
			if ev.Downloaded > job.Progress.DownloadedBytes {
				job.Progress.DownloadedBytes = ev.Downloaded
			}
		}
	})
}
