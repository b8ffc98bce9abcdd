package ratelimit

import "time"

type window struct {
	count int
	start time.Time
}

// Limiter enforces a fixed-window message budget per user. It is not safe
// for concurrent use; the dispatcher goroutine owns it.
type Limiter struct {
	budget  int
	length  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// New creates a limiter allowing budget messages per window length.
func New(budget int, length time.Duration) *Limiter {
	return &Limiter{
		budget:  budget,
		length:  length,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one message from the user and reports whether it fits the
// current window. The window restarts once its full length has passed.
func (l *Limiter) Allow(userID string) bool {
	now := l.now()
	w, ok := l.windows[userID]
	if !ok || now.Sub(w.start) > l.length {
		w = &window{start: now}
		l.windows[userID] = w
	}
	w.count++
	return w.count <= l.budget
}

// Forget drops the user's window, freeing its bookkeeping after disconnect.
func (l *Limiter) Forget(userID string) {
	delete(l.windows, userID)
}

// Tracked returns the number of users with live windows.
func (l *Limiter) Tracked() int {
	return len(l.windows)
}
