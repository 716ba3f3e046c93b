package models

import (
	"math"
	"time"
)

// Status is the lifecycle state of a fetch job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusDone        Status = "done"
	StatusError       Status = "error"
)

// rank orders statuses; done and error share the terminal rank.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDownloading:
		return 1
	case StatusProcessing:
		return 2
	case StatusDone, StatusError:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Terminal statuses never change.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// Subject is what the client asked to fetch.
type Subject struct {
	VideoID      string `json:"video_id"`
	Container    string `json:"format"`
	Resolution   int    `json:"res,omitempty"` // 0 means no cap
	AudioBitrate int    `json:"audio"`
}

// Progress mirrors the latest engine report. Pointer fields are unknown
// until the engine provides them.
type Progress struct {
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      *int64   `json:"total_bytes"`
	Speed           *float64 `json:"speed_bps"`
	ETA             *int64   `json:"eta_seconds"`
	Percent         float64  `json:"percent"`
}

// Percentage returns 100*downloaded/total rounded to two decimals, or zero
// when the total is unknown.
func Percentage(downloaded int64, total *int64) float64 {
	if total == nil || *total <= 0 {
		return 0
	}
	pct := float64(downloaded) / float64(*total) * 100
	return math.Round(pct*100) / 100
}

// Job holds the full state of one fetch request, keyed by Token.
type Job struct {
	Token       string    `json:"token"`
	Owner       string    `json:"-"`
	Subject     Subject   `json:"subject"`
	Status      Status    `json:"status"`
	Progress    Progress  `json:"progress"`
	Filename    string    `json:"filename"`
	OutputPath  string    `json:"-"`
	ErrorDetail string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"-"`
}

// NewJob returns a queued job owned by owner.
func NewJob(token, owner string, subject Subject, now time.Time) *Job {
	return &Job{
		Token:     token,
		Owner:     owner,
		Subject:   subject,
		Status:    StatusQueued,
		Filename:  subject.VideoID + "." + subject.Container,
		CreatedAt: now,
	}
}

// Advance moves the job to next if that keeps the status monotonic.
func (j *Job) Advance(next Status) bool {
	if !j.Status.CanAdvanceTo(next) {
		return false
	}
	j.Status = next
	return true
}

// Complete marks the job done with its artifact path.
func (j *Job) Complete(outputPath string) bool {
	if !j.Advance(StatusDone) {
		return false
	}
	j.OutputPath = outputPath
	j.ErrorDetail = ""
	return true
}

// Fail marks the job failed with the engine's description.
func (j *Job) Fail(detail string) bool {
	if !j.Advance(StatusError) {
		return false
	}
	j.ErrorDetail = detail
	j.OutputPath = ""
	return true
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (j *Job) Clone() Job {
	c := *j
	if j.Progress.TotalBytes != nil {
		v := *j.Progress.TotalBytes
		c.Progress.TotalBytes = &v
	}
	if j.Progress.Speed != nil {
		v := *j.Progress.Speed
		c.Progress.Speed = &v
	}
	if j.Progress.ETA != nil {
		v := *j.Progress.ETA
		c.Progress.ETA = &v
	}
	return c
}

// Elapsed is the time since submission, in seconds rounded to two decimals.
func (j Job) Elapsed(now time.Time) float64 {
	secs := now.Sub(j.CreatedAt).Seconds()
	return math.Round(secs*100) / 100
}

// SubmitRequest is the validated form of a submission.
type SubmitRequest struct {
	Subject Subject
	Token   string // empty means generate one
	Owner   string
}
