// Package retry implements the bounded-attempt, cancellable backoff
// scheduler (spec.md §4.K/§4.L).
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Config configures backoff behavior.
type Config struct {
	MaxAttempts  int
	BaseInterval time.Duration
	Multiplier   float64 // 0 disables growth (fixed interval)
	Jitter       float64 // 0-1, fraction of the interval to randomize by
}

// DefaultConfig mirrors the teacher's resilience.DefaultRetryConfig, scaled
// to this library's shorter HTTP round trips.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseInterval: 200 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Handler schedules retries with at most one outstanding timer, and lets
// the caller cancel a pending attempt before it fires.
type Handler struct {
	cfg Config

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	cancelled bool
}

// NewHandler creates a retry Handler from cfg, taking MaxAttempts and
// BaseInterval from DefaultConfig when they are zero. A zero Multiplier
// gives a fixed interval and a zero Jitter gives no jitter.
func NewHandler(cfg Config) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultConfig().BaseInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1.0
	}
	return &Handler{cfg: cfg}
}

// Reset clears the attempt counter and cancellation state.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimerLocked()
	h.attempts = 0
	h.cancelled = false
}

// LimitReached reports whether the attempt count has reached MaxAttempts.
func (h *Handler) LimitReached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts >= h.cfg.MaxAttempts
}

// Cancel aborts any pending timer. thunk passed to a prior Retry call will
// not run if its timer has not yet fired; an attempt already executing is
// unaffected.
func (h *Handler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	h.stopTimerLocked()
}

// Retry schedules thunk to run after the computed backoff delay and
// returns that delay in milliseconds. It guarantees at most one
// outstanding timer per Handler — a new call to Retry replaces any
// previously scheduled, not-yet-fired timer. thunk will not be invoked if
// Cancel is called before the timer fires.
func (h *Handler) Retry(thunk func()) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimerLocked()
	h.cancelled = false
	h.attempts++

	delay := h.computeDelayLocked()
	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if !cancelled {
			thunk()
		}
	})
	return delay.Milliseconds()
}

func (h *Handler) computeDelayLocked() time.Duration {
	interval := float64(h.cfg.BaseInterval)
	for i := 1; i < h.attempts; i++ {
		interval *= h.cfg.Multiplier
	}
	d := time.Duration(interval)
	if h.cfg.Jitter > 0 {
		delta := float64(d) * h.cfg.Jitter
		d += time.Duration(rand.Float64()*delta*2 - delta)
		if d < 0 {
			d = 0
		}
	}
	return d
}

func (h *Handler) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
