package jobs

import (
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

type quotaEntry struct {
	day   string
	count int
}

// RateLimiter enforces a per-client cap on admissions per UTC calendar day.
// Entries reset lazily when the date changes.
type RateLimiter struct {
	cap     int
	mu      sync.Mutex
	entries map[string]*quotaEntry
	timeNow func() time.Time // Injectable for testing
}

// NewRateLimiter creates a limiter using the wall clock.
func NewRateLimiter(dailyCap int) *RateLimiter {
	return NewRateLimiterWithClock(dailyCap, time.Now)
}

// NewRateLimiterWithClock creates a limiter with an injectable clock.
func NewRateLimiterWithClock(dailyCap int, timeNow func() time.Time) *RateLimiter {
	return &RateLimiter{
		cap:     dailyCap,
		entries: make(map[string]*quotaEntry),
		timeNow: timeNow,
	}
}

func (l *RateLimiter) today() string {
	return l.timeNow().UTC().Format(dayLayout)
}

// Admit records one admission for client and reports whether it is within
// the daily cap. A rejected call leaves the entry untouched.
func (l *RateLimiter) Admit(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.today()
	e, ok := l.entries[client]
	if !ok || e.day != day {
		l.entries[client] = &quotaEntry{day: day, count: 1}
		return true
	}
	if e.count >= l.cap {
		return false
	}
	e.count++
	return true
}

// Release returns one admission taken today. Used when a submission is
// rejected after it was admitted.
func (l *RateLimiter) Release(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[client]
	if !ok || e.day != l.today() || e.count == 0 {
		return
	}
	e.count--
}

// Remaining reports how many admissions client has left today.
func (l *RateLimiter) Remaining(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[client]
	if !ok || e.day != l.today() {
		return l.cap
	}
	if e.count >= l.cap {
		return 0
	}
	return l.cap - e.count
}

// Sweep drops entries from previous days and returns how many went.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.today()
	removed := 0
	for client, e := range l.entries {
		if e.day != day {
			delete(l.entries, client)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
