// Package ratelimit throttles abuse-prone endpoints per client IP.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// IPLimiter tracks request counts per IP within a sliding window.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
}

// NewIPLimiter creates an IPLimiter allowing max requests per window.
// A max of 0 disables limiting.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Allow returns true if the IP has not exceeded the rate limit.
// If allowed, the request is recorded.
func (l *IPLimiter) Allow(ip string) bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	timestamps := l.entries[ip]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.max {
		l.entries[ip] = valid
		return false
	}

	l.entries[ip] = append(valid, now)
	return true
}

// Run prunes stale entries once per window until ctx is cancelled.
// A disabled limiter has nothing to prune, so Run returns immediately.
func (l *IPLimiter) Run(ctx context.Context) {
	if l.max <= 0 || l.window <= 0 {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// Len reports how many IPs currently hold recorded requests.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops IPs whose every recorded request has aged out of the
// window, bounding memory under churny traffic.
func (l *IPLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for ip, timestamps := range l.entries {
		stale := true
		for _, t := range timestamps {
			if t.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.entries, ip)
		}
	}
}
