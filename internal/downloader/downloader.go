// Package downloader holds the extraction engines the job pool drives.
//
// An Engine fetches one subject into an output path and reports progress
// through a Sink. The job subsystem only depends on that contract: events
// in emission order, then a nil error for success or any error for failure.
package downloader

import (
	"context"
	"fmt"
)

// Phase is the engine's coarse position in a fetch.
type Phase string

const (
	// PhaseDownloading reports byte progress on the current stream.
	PhaseDownloading Phase = "downloading"
	// PhaseFinished means fetching is over; merging may still run.
	PhaseFinished Phase = "finished"
)

// Event is one progress report. Pointer fields are nil when the engine does
// not know the value at that instant.
type Event struct {
	Phase      Phase
	Downloaded int64
	Total      *int64
	Speed      *float64 // bytes per second
	ETA        *int64   // seconds
}

// Sink receives events from a running engine. It may be invoked from any
// goroutine the engine owns.
type Sink func(Event)

// Request describes one fetch.
type Request struct {
	VideoID      string
	Container    string // "mp4" or "webm"
	Resolution   int    // 0 means no cap
	AudioBitrate int    // kbps cap
	Format       string // yt-dlp style selector built by BuildFormat
	OutputPath   string
}

// URL is the watch page the engines resolve.
func (r Request) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", r.VideoID)
}

// Engine downloads and merges a subject into Request.OutputPath.
type Engine interface {
	Fetch(ctx context.Context, req Request, sink Sink) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request, sink Sink) error

func (f EngineFunc) Fetch(ctx context.Context, req Request, sink Sink) error {
	return f(ctx, req, sink)
}
