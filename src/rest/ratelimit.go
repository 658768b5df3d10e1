package rest

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// https://discord.com/developers/docs/topics/rate-limits#header-format
const (
	HeaderRateLimitLimit      = "X-RateLimit-Limit"
	HeaderRateLimitRemaining  = "X-RateLimit-Remaining"
	HeaderRateLimitResetAfter = "X-RateLimit-Reset-After"
	HeaderRateLimitBucket     = "X-RateLimit-Bucket"
	HeaderRateLimitGlobal     = "X-RateLimit-Global"
)

type RateLimit struct {
	Bucket     string        `json:"bucket,omitempty"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAfter time.Duration `json:"reset_after"`
	Global     bool          `json:"global"`
	Exhausted  bool          `json:"exhausted"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// parseRateLimit reads the rate limit headers. ok is false when the
// response carries no remaining count.
func parseRateLimit(h http.Header) (RateLimit, bool) {
	remaining := h.Get(HeaderRateLimitRemaining)
	if remaining == "" {
		return RateLimit{}, false
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return RateLimit{}, false
	}
	rl := RateLimit{
		Bucket:    h.Get(HeaderRateLimitBucket),
		Remaining: rem,
		Global:    h.Get(HeaderRateLimitGlobal) == "true",
		UpdatedAt: time.Now(),
	}
	if limit, err := strconv.Atoi(h.Get(HeaderRateLimitLimit)); err == nil {
		rl.Limit = limit
	}
	if reset, err := strconv.ParseFloat(h.Get(HeaderRateLimitResetAfter), 64); err == nil {
		rl.ResetAfter = seconds(reset)
	}
	return rl, true
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// limiter is the client-wide exhaustion gate. One bot token shares
// one budget, so buckets are not tracked separately.
type limiter struct {
	mu         sync.RWMutex
	exhausted  bool
	resetAfter time.Duration
	last       RateLimit
}

func (l *limiter) exhaust(resetAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exhausted = true
	l.resetAfter = resetAfter.Truncate(time.Second)
	l.last.Exhausted = true
}

// pending returns how long the next request has to wait.
func (l *limiter) pending() (time.Duration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.exhausted {
		return 0, false
	}
	return l.resetAfter + time.Second, true
}

func (l *limiter) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exhausted = false
	l.resetAfter = 0
	l.last.Exhausted = false
}

func (l *limiter) observe(rl RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.Exhausted = l.exhausted
	l.last = rl
}

func (l *limiter) isExhausted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exhausted
}

func (l *limiter) snapshot() RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}
