// Package ratelimit paces outbound requests per upstream source.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a named token bucket. A nil *Limiter never blocks.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// PerMinute creates a limiter allowing requestsPerMinute requests, spread
// evenly, with a burst of burst. Source configs express their limits per
// minute since most sources tolerate well under one request per second.
// Returns nil (unlimited) when requestsPerMinute <= 0.
func PerMinute(name string, requestsPerMinute, burst int) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows a request to proceed.
// Returns an error if the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Allow reports whether a request can proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Name returns the name of this rate limiter.
func (l *Limiter) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}
