// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements a dual token-bucket limiter (operations/sec
// and bytes/sec) with an adaptive throttle factor driven by a moving
// average of target response times (spec.md §4.7).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

const (
	defaultBurstMultiplier = 1.5

	defaultSlowThreshold = 500 * time.Millisecond
	defaultFastThreshold = 100 * time.Millisecond

	minThrottleFactor = 0.25
	maxThrottleFactor = 1.0

	throttleStep = 0.10

	// ewmaAge mirrors the smoothing window steep uses for throughput;
	// short enough to react within a few batches.
	ewmaAge = 5
)

// bucket is one token bucket, lazily refilled on access.
type bucket struct {
	limit      float64 // tokens/sec at throttle factor 1.0
	burst      float64 // burst multiplier applied to limit
	maxTokens  float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(limit, burstMultiplier float64) *bucket {
	return &bucket{
		limit:      limit,
		burst:      burstMultiplier,
		maxTokens:  limit * burstMultiplier,
		tokens:     limit * burstMultiplier,
		refillRate: limit,
		lastRefill: time.Now(),
	}
}

// refill recomputes available tokens lazily using the elapsed time since
// lastRefill (spec.md §5: "recomputed lazily at each access"). Must be
// called with the owning Limiter's mutex held.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

func (b *bucket) waitFor(amount float64) time.Duration {
	if b.tokens >= amount || b.refillRate <= 0 {
		return 0
	}
	deficit := amount - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

func (b *bucket) consume(amount float64) {
	b.tokens -= amount
	if b.tokens < 0 {
		b.tokens = 0
	}
}

func (b *bucket) applyFactor(factor float64) {
	b.maxTokens = b.limit * b.burst * factor
	b.refillRate = b.limit * factor
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter enforces an operations/sec and a bytes/sec budget against the
// target database, adapting both as observed response time drifts.
type Limiter struct {
	mu sync.Mutex

	ops   *bucket
	bytes *bucket

	factor         float64
	responseTimeMA ewma.MovingAverage

	slowThreshold time.Duration
	fastThreshold time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithBurstMultiplier(m float64) Option {
	return func(l *Limiter) {
		l.ops.burst, l.bytes.burst = m, m
		l.ops.maxTokens = l.ops.limit * m
		l.bytes.maxTokens = l.bytes.limit * m
	}
}

func WithSlowThreshold(d time.Duration) Option {
	return func(l *Limiter) { l.slowThreshold = d }
}

func WithFastThreshold(d time.Duration) Option {
	return func(l *Limiter) { l.fastThreshold = d }
}

// New creates a Limiter budgeted at opsPerSec operations and bytesPerSec
// bytes, each with burst capacity of limit*1.5 by default.
func New(opsPerSec, bytesPerSec float64, opts ...Option) *Limiter {
	l := &Limiter{
		ops:            newBucket(opsPerSec, defaultBurstMultiplier),
		bytes:          newBucket(bytesPerSec, defaultBurstMultiplier),
		factor:         maxThrottleFactor,
		responseTimeMA: ewma.NewMovingAverage(ewmaAge),
		slowThreshold:  defaultSlowThreshold,
		fastThreshold:  defaultFastThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AcquirePermit blocks (respecting ctx cancellation) until ops operations
// and bytes bytes worth of budget are available, then consumes them.
func (l *Limiter) AcquirePermit(ctx context.Context, ops, bytes float64) (time.Duration, error) {
	l.mu.Lock()
	now := time.Now()
	l.ops.refill(now)
	l.bytes.refill(now)

	wait := l.ops.waitFor(ops)
	if w := l.bytes.waitFor(bytes); w > wait {
		wait = w
	}
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return wait, ctx.Err()
		}
	}

	l.mu.Lock()
	now = time.Now()
	l.ops.refill(now)
	l.bytes.refill(now)
	l.ops.consume(ops)
	l.bytes.consume(bytes)
	l.mu.Unlock()

	return wait, nil
}

// RecordResponseTime feeds one observed target response time into the
// moving average and updates the throttle factor accordingly (spec.md
// §4.7). When the factor changes, both buckets are rescaled.
func (l *Limiter) RecordResponseTime(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.responseTimeMA.Add(float64(d))
	avg := time.Duration(l.responseTimeMA.Value())
	if avg == 0 {
		// The moving average reports 0 until it has seen its warm-up
		// samples; judge by the latest sample until then.
		avg = d
	}

	before := l.factor
	switch {
	case avg > l.slowThreshold:
		l.factor -= throttleStep
		if l.factor < minThrottleFactor {
			l.factor = minThrottleFactor
		}
	case avg < l.fastThreshold && l.factor < maxThrottleFactor:
		l.factor += throttleStep
		if l.factor > maxThrottleFactor {
			l.factor = maxThrottleFactor
		}
	}

	if l.factor != before {
		l.ops.applyFactor(l.factor)
		l.bytes.applyFactor(l.factor)
	}
}

// Factor returns the current adaptive throttle factor, in [0.25, 1.0].
func (l *Limiter) Factor() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.factor
}
