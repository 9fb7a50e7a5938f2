// Package ratelimit bounds generator invocations with per-lane token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/ArnavS-22/gumborebuild/internal/domain"
)

// Policy describes one lane's budget.
type Policy struct {
	Capacity     float64
	RefillPerSec float64
}

// DefaultPolicy allows a burst of two generations and one refill per minute.
var DefaultPolicy = Policy{Capacity: 2, RefillPerSec: 1.0 / 60.0}

// Status is a point-in-time snapshot of one bucket, exposed for health checks.
type Status struct {
	Lane            domain.Lane `json:"lane"`
	Tokens          float64     `json:"tokens"`
	Capacity        float64     `json:"capacity"`
	RefillPerSec    float64     `json:"refill_per_second"`
	RateLimited     bool        `json:"rate_limited"`
	WaitTimeSeconds float64     `json:"wait_time_seconds"`
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter owns every lane bucket. All access goes through TryAcquire so the
// refill-then-spend step is atomic under concurrent pipeline units.
type Limiter struct {
	mu      sync.Mutex
	policy  Policy
	buckets map[domain.Lane]*bucket
	now     func() time.Time
}

// New constructs a Limiter with the supplied policy for every lane.
func New(policy Policy) *Limiter {
	return &Limiter{
		policy:  policy,
		buckets: make(map[domain.Lane]*bucket),
		now:     time.Now,
	}
}

// TryAcquire refills the lane's bucket from elapsed time, then spends one
// token if at least one is available. A false return means the caller should
// drop the event for this lane; tokens are a spend, not a lease, so nothing
// is refunded on later cancellation.
func (l *Limiter) TryAcquire(lane domain.Lane) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(lane)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Status reports the lane's current token count without spending.
func (l *Limiter) Status(lane domain.Lane) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refillLocked(lane)
	st := Status{
		Lane:         lane,
		Tokens:       b.tokens,
		Capacity:     l.policy.Capacity,
		RefillPerSec: l.policy.RefillPerSec,
		RateLimited:  b.tokens < 1,
	}
	if st.RateLimited && l.policy.RefillPerSec > 0 {
		st.WaitTimeSeconds = (1 - b.tokens) / l.policy.RefillPerSec
	}
	return st
}

// Reset restores every known lane to full capacity. Admin/test use only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		b.tokens = l.policy.Capacity
		b.lastRefill = l.now()
	}
}

func (l *Limiter) refillLocked(lane domain.Lane) *bucket {
	b, ok := l.buckets[lane]
	if !ok {
		b = &bucket{tokens: l.policy.Capacity, lastRefill: l.now()}
		l.buckets[lane] = b
		return b
	}

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.policy.Capacity, b.tokens+elapsed*l.policy.RefillPerSec)
		b.lastRefill = now
	}
	return b
}
