package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ytdl-server/internal/jobs"
)

type ctxKey int

const (
	traceKey ctxKey = iota
	clientKey
)

const (
	traceHeader   = "X-Trace-ID"
	maxTraceIDLen = 64
)

// Trace stamps every request with an ID echoed in X-Trace-ID. A caller
// supplied ID is kept unless it is blank or longer than maxTraceIDLen.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(traceHeader))
		if id == "" || len(id) > maxTraceIDLen {
			id = jobs.NewToken()
		}
		w.Header().Set(traceHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey, id)))
	})
}

func traceIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(traceKey).(string)
	return id
}

// ClientIdentity resolves the requester and stores it on the context.
// With trustProxy the first X-Forwarded-For entry wins.
func ClientIdentity(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientKey, clientAddr(r, trustProxy))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetClient returns the identity set by ClientIdentity, falling back to the
// remote host.
func GetClient(r *http.Request) string {
	if c, ok := r.Context().Value(clientKey).(string); ok {
		return c
	}
	return clientAddr(r, false)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush on the real writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			traceID := traceIDFrom(r)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("Request completed",
				zap.String("trace_id", traceID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("client", GetClient(r)),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recovery turns a handler panic into a 500 carrying the trace ID. Once the
// response has started there is nothing left to send, so only the log remains.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				id := traceIDFrom(r)
				logger.Error("Handler panicked",
					zap.String("trace_id", id),
					zap.String("path", r.URL.Path),
					zap.String("client", GetClient(r)),
					zap.Any("panic", v),
					zap.Stack("stack"),
				)
				if rec.status == 0 {
					respondJSON(w, http.StatusInternalServerError, map[string]string{
						"error":    "Internal server error",
						"trace_id": id,
					})
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// CORS allows the configured origins. "*" allows any origin without
// credentials; an unknown origin is refused.
func CORS(allowed []string) func(http.Handler) http.Handler {
	origins := map[string]struct{}{}
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	_, allowAll := origins["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && len(origins) > 0 {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := origins[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				} else {
					respondError(w, http.StatusForbidden, "CORS origin denied")
					return
				}
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+traceHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Throttle applies a token bucket per client. It guards the HTTP surface
// against polling floods; the daily quota is enforced separately on
// submission.
type Throttle struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*throttleEntry
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*throttleEntry),
	}
}

func (t *Throttle) allow(client string, now time.Time) bool {
	t.mu.Lock()
	e, ok := t.clients[client]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[client] = e
	}
	e.lastSeen = now
	t.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Prune drops clients idle for longer than idle.
func (t *Throttle) Prune(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for client, e := range t.clients {
		if e.lastSeen.Before(cutoff) {
			delete(t.clients, client)
			removed++
		}
	}
	return removed
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(GetClient(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
