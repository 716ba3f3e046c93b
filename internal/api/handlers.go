package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ytdl-server/internal/config"
	"ytdl-server/internal/downloader"
	"ytdl-server/internal/errors"
	"ytdl-server/internal/jobs"
	"ytdl-server/internal/models"
	"ytdl-server/internal/server"
)

// eventInterval is how often /events pushes a snapshot.
const eventInterval = 500 * time.Millisecond

type Handler struct {
	manager *jobs.Manager
	prober  downloader.Prober
	cfg     *config.Config
	logger  *zap.Logger
}

func NewHandler(m *jobs.Manager, prober downloader.Prober, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{manager: m, prober: prober, cfg: cfg, logger: logger}
}

// progressView is the /progress body.
type progressView struct {
	Token           string        `json:"token"`
	Status          models.Status `json:"status"`
	Percent         float64       `json:"percent"`
	Speed           *float64      `json:"speed_bps"`
	ETA             *int64        `json:"eta_seconds"`
	DownloadedBytes int64         `json:"downloaded_bytes"`
	TotalBytes      *int64        `json:"total_bytes"`
	Format          string        `json:"format"`
	Elapsed         float64       `json:"elapsed"`
	Ready           bool          `json:"ready"`
	Error           *string       `json:"error"`
}

func newProgressView(job models.Job, now time.Time) progressView {
	v := progressView{
		Token:           job.Token,
		Status:          job.Status,
		Percent:         job.Progress.Percent,
		Speed:           job.Progress.Speed,
		ETA:             job.Progress.ETA,
		DownloadedBytes: job.Progress.DownloadedBytes,
		TotalBytes:      job.Progress.TotalBytes,
		Format:          job.Subject.Container,
		Elapsed:         job.Elapsed(now),
		Ready:           job.Status == models.StatusDone,
	}
	if job.ErrorDetail != "" {
		detail := job.ErrorDetail
		v.Error = &detail
	}
	return v
}

// parseSubmission reads the /watch query. Syntax errors are bad requests;
// semantic checks happen in the manager.
func parseSubmission(r *http.Request) (models.SubmitRequest, error) {
	q := r.URL.Query()
	req := models.SubmitRequest{
		Subject: models.Subject{
			VideoID:   strings.TrimSpace(q.Get("v")),
			Container: strings.ToLower(strings.TrimSpace(q.Get("format"))),
		},
		Token: q.Get("token"),
		Owner: GetClient(r),
	}
	if req.Subject.VideoID == "" {
		return req, errors.NewBadRequest("Missing v")
	}
	if res := strings.TrimSuffix(strings.ToLower(q.Get("res")), "p"); res != "" {
		n, err := strconv.Atoi(res)
		if err != nil || n < 0 {
			return req, errors.NewBadRequest("Invalid res")
		}
		req.Subject.Resolution = n
	}
	if audio := q.Get("audio"); audio != "" {
		n, err := strconv.Atoi(audio)
		if err != nil || n <= 0 {
			return req, errors.NewBadRequest("Invalid audio")
		}
		req.Subject.AudioBitrate = n
	}
	return req, nil
}

// Watch submits a job. With not-json present it blocks until the artifact
// is ready and streams it, answering failures with bare status codes.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	_, blocking := r.URL.Query()["not-json"]

	req, err := parseSubmission(r)
	if err == nil {
		var job models.Job
		job, err = h.manager.Submit(req)
		if err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.manager.Remaining(req.Owner)))
			if blocking {
				h.waitAndServe(w, r, job)
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{
				"status":   string(models.StatusQueued),
				"token":    job.Token,
				"progress": "/progress?token=" + job.Token,
				"download": "/download?token=" + job.Token,
			})
			return
		}
	}

	if errors.IsAdmissionError(err) {
		h.logger.Info("Submission rejected",
			zap.String("trace_id", traceIDFrom(r)),
			zap.String("client", req.Owner),
			zap.Error(err),
		)
	}
	if blocking {
		status, _ := statusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	h.handleError(w, r, err)
}

func (h *Handler) waitAndServe(w http.ResponseWriter, r *http.Request, job models.Job) {
	path, err := h.manager.Wait(r.Context(), job.Token)
	switch {
	case err == nil:
		h.serveArtifact(w, r, path, job.Filename, job.Subject.Container)
	case r.Context().Err() != nil:
		// client went away; the job keeps running
	case errors.Is(err, errors.ErrGone):
		http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
	default:
		h.logger.Warn("Blocking fetch failed",
			zap.String("trace_id", traceIDFrom(r)),
			zap.String("token", job.Token),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "Missing token")
		return
	}

	job, err := h.manager.Progress(token, GetClient(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newProgressView(job, time.Now()))
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "Missing token")
		return
	}

	job, err := h.manager.Retrieve(token, GetClient(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.serveArtifact(w, r, job.OutputPath, job.Filename, job.Subject.Container)
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, path, filename, container string) {
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusGone, "Expired")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Type", "video/"+container)
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// Events streams progress snapshots as server-sent events until the job is
// terminal, gone or the client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "Missing token")
		return
	}
	client := GetClient(r)
	if _, err := h.manager.Progress(token, client); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	for {
		job, err := h.manager.Progress(token, client)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", "Invalid or expired token")
			rc.Flush()
			return
		}
		data, _ := json.Marshal(newProgressView(job, time.Now()))
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()

		if job.Status.IsTerminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// Info lists the title and available qualities for v.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(r.URL.Query().Get("v"))
	if videoID == "" {
		respondError(w, http.StatusBadRequest, "Missing v")
		return
	}

	info, err := h.prober.Probe(r.Context(), videoID)
	if err != nil {
		h.logger.Warn("Probe failed", zap.String("video_id", videoID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "Could not fetch video info")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"jobs":   h.manager.Stats(),
	}
	if res, err := server.HostResources(h.cfg.Storage.DownloadDir); err == nil {
		body["host"] = res
	}
	respondJSON(w, http.StatusOK, body)
}
