package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per subject in process. It suits a
// single API replica or local development without Redis.
type MemoryLimiter struct {
	shape bucketShape
	every rate.Limit
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	lastSweep time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(capacity int, window time.Duration) (*MemoryLimiter, error) {
	shape, err := newBucketShape(capacity, window)
	if err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		shape:   shape,
		every:   rate.Limit(float64(capacity) / window.Seconds()),
		now:     time.Now,
		buckets: make(map[string]*memoryBucket),
	}, nil
}

func (l *MemoryLimiter) AllowN(_ context.Context, subject string, cost int) (Decision, error) {
	now := l.now()
	n := int(l.shape.cost(cost))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	bucket := l.bucket(normalizeSubject(subject), now)

	r := bucket.limiter.ReserveN(now, n)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{
			Remaining:  int64(bucket.limiter.TokensAt(now)),
			RetryAfter: delay,
		}, nil
	}
	return Decision{Allowed: true, Remaining: int64(bucket.limiter.TokensAt(now))}, nil
}

func (l *MemoryLimiter) bucket(subject string, now time.Time) *memoryBucket {
	b, ok := l.buckets[subject]
	if !ok {
		b = &memoryBucket{limiter: rate.NewLimiter(l.every, int(l.shape.capacity))}
		l.buckets[subject] = b
	}
	b.lastSeen = now
	return b
}

// sweep drops buckets idle for two windows; they would be full again anyway.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.shape.window {
		return
	}
	l.lastSweep = now
	for subject, b := range l.buckets {
		if now.Sub(b.lastSeen) > 2*l.shape.window {
			delete(l.buckets, subject)
		}
	}
}

// Len reports how many subjects currently hold a bucket.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
