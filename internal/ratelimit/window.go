package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Mode selects how a WindowLimiter counts.
type Mode int

const (
	// Sliding keeps every timestamp inside the trailing window.
	Sliding Mode = iota
	// Fixed counts from the first request and resets once the window has
	// fully elapsed.
	Fixed
)

func (m Mode) String() string {
	if m == Fixed {
		return "fixed"
	}
	return "sliding"
}

// Decision is the outcome of Take.
type Decision struct {
	Allowed bool
	// Count is the number of recorded requests in the window, including this
	// one when allowed.
	Count int
	// RetryAfter is set on denial, rounded up to whole seconds.
	RetryAfter time.Duration
}

type windowLog struct {
	stamps []time.Time // Sliding
	start  time.Time   // Fixed
	count  int         // Fixed
}

// WindowLimiter allows at most max requests per key per window.
type WindowLimiter struct {
	mu     sync.Mutex
	logs   map[string]*windowLog
	mode   Mode
	max    int
	window time.Duration
	now    func() time.Time

	// done is closed when the cleanup goroutine exits.
	done chan struct{}
}

type WindowOption func(*WindowLimiter)

func WithMode(m Mode) WindowOption {
	return func(w *WindowLimiter) { w.mode = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WindowOption {
	return func(w *WindowLimiter) { w.now = now }
}

// NewWindow creates a limiter for max requests per window. Keys with nothing
// left in their window are dropped periodically until ctx is cancelled.
func NewWindow(ctx context.Context, max int, window time.Duration, opts ...WindowOption) *WindowLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	w := &WindowLimiter{
		logs:   make(map[string]*windowLog),
		max:    max,
		window: window,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	go w.cleanup(ctx)
	return w
}

func (w *WindowLimiter) Max() int              { return w.max }
func (w *WindowLimiter) Window() time.Duration { return w.window }

// Take records a request for key if it fits and reports the outcome. Denied
// requests are not recorded.
func (w *WindowLimiter) Take(key string) Decision {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	lg := w.logs[key]
	if lg == nil {
		lg = &windowLog{start: now}
		w.logs[key] = lg
	}

	if w.mode == Fixed {
		if now.Sub(lg.start) > w.window {
			lg.start, lg.count = now, 0
		}
		if lg.count >= w.max {
			return Decision{Count: lg.count, RetryAfter: ceilSeconds(lg.start.Add(w.window).Sub(now))}
		}
		lg.count++
		return Decision{Allowed: true, Count: lg.count}
	}

	lg.stamps = w.prune(lg.stamps, now)
	if len(lg.stamps) >= w.max {
		return Decision{Count: len(lg.stamps), RetryAfter: ceilSeconds(lg.stamps[0].Add(w.window).Sub(now))}
	}
	lg.stamps = append(lg.stamps, now)
	return Decision{Allowed: true, Count: len(lg.stamps)}
}

// Count reports the in-window count for key without recording anything.
func (w *WindowLimiter) Count(key string) int {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	lg := w.logs[key]
	if lg == nil {
		return 0
	}
	if w.mode == Fixed {
		if now.Sub(lg.start) > w.window {
			return 0
		}
		return lg.count
	}
	n := 0
	for _, ts := range lg.stamps {
		if now.Sub(ts) < w.window {
			n++
		}
	}
	return n
}

// Reset forgets every key.
func (w *WindowLimiter) Reset() {
	w.mu.Lock()
	w.logs = make(map[string]*windowLog)
	w.mu.Unlock()
}

// Len is the number of keys currently held.
func (w *WindowLimiter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.logs)
}

// prune drops timestamps that have left the window. stamps are in
// ascending order.
func (w *WindowLimiter) prune(stamps []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= w.window {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

func (w *WindowLimiter) sweep() {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, lg := range w.logs {
		if w.mode == Fixed {
			if now.Sub(lg.start) > w.window {
				delete(w.logs, k)
			}
			continue
		}
		lg.stamps = w.prune(lg.stamps, now)
		if len(lg.stamps) == 0 {
			delete(w.logs, k)
		}
	}
}

func (w *WindowLimiter) cleanup(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	s := (d + time.Second - 1) / time.Second
	return s * time.Second
}
