// Package ratelimit gates submission throughput per user with a token bucket.
// Buckets refill lazily: elapsed time is converted to tokens on each access,
// capped at capacity, so an idle user never accumulates more than one burst.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config shapes every user's bucket. RefillPerHour tokens accrue continuously
// up to Capacity.
type Config struct {
	Capacity      int
	RefillPerHour float64
}

// Decision is the outcome of one Acquire call. A denial does not consume tokens.
type Decision struct {
	Allowed   bool    `json:"allowed"`
	Remaining float64 `json:"remaining"`
}

// Status is a read-only snapshot of one user's bucket.
type Status struct {
	Tokens        float64 `json:"tokens"`
	Capacity      int     `json:"capacity"`
	RefillPerHour float64 `json:"refill_per_hour"`
}

type userBucket struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter holds one token bucket per user. All operations for a user are
// serialized behind the limiter mutex so concurrent acquires can never
// double-spend. Idle buckets are evicted by a background sweep.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[uuid.UUID]*userBucket
	ttl     time.Duration
	stop    chan struct{}
}

// New creates a Limiter and starts its eviction sweep.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RefillPerHour <= 0 {
		cfg.RefillPerHour = 5
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: map[uuid.UUID]*userBucket{},
		ttl:     24 * time.Hour,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			cutoff := time.Now().Add(-l.ttl)
			l.mu.Lock()
			for id, b := range l.buckets {
				if b.last.Before(cutoff) {
					delete(l.buckets, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the eviction sweep.
func (l *Limiter) Close() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Acquire spends cost tokens for the user if the bucket holds enough,
// refilling first. Insufficient tokens deny the request without mutating state.
func (l *Limiter) Acquire(userID uuid.UUID, cost int) Decision {
	return l.AcquireAt(userID, cost, time.Now())
}

// AcquireAt is Acquire with an explicit clock, used by tests and callers that
// already hold a timestamp.
func (l *Limiter) AcquireAt(userID uuid.UUID, cost int, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(userID, now)
	b.last = now
	allowed := b.lim.AllowN(now, cost)
	return Decision{Allowed: allowed, Remaining: b.lim.TokensAt(now)}
}

// Status reports the user's bucket after a lazy refill. Creating the bucket on
// first read is deliberate: estimates for a new user see a full bucket.
func (l *Limiter) Status(userID uuid.UUID) Status {
	return l.StatusAt(userID, time.Now())
}

// StatusAt is Status with an explicit clock.
func (l *Limiter) StatusAt(userID uuid.UUID, now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(userID, now)
	b.last = now
	return Status{
		Tokens:        b.lim.TokensAt(now),
		Capacity:      l.cfg.Capacity,
		RefillPerHour: l.cfg.RefillPerHour,
	}
}

// RetryDelay returns how long a denied user should wait for one token.
func (l *Limiter) RetryDelay() time.Duration {
	perToken := time.Duration(float64(time.Hour) / l.cfg.RefillPerHour)
	return perToken
}

// bucket returns the user's bucket, creating a full one on first use.
// Callers must hold l.mu.
func (l *Limiter) bucket(userID uuid.UUID, now time.Time) *userBucket {
	b := l.buckets[userID]
	if b == nil {
		lim := rate.NewLimiter(rate.Limit(l.cfg.RefillPerHour/3600.0), l.cfg.Capacity)
		b = &userBucket{lim: lim, last: now}
		l.buckets[userID] = b
	}
	return b
}
