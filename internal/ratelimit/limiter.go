// Package ratelimit meters POST traffic per subject with token buckets.
// Subjects are opaque strings; the API uses "<user>:<route>".
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultKeyPrefix = "pixelfx:ratelimit"

	BackendRedis  = "redis"
	BackendMemory = "memory"

	anonymousSubject = "anonymous"
)

// Limiter decides whether subject may spend cost tokens now.
type Limiter interface {
	AllowN(ctx context.Context, subject string, cost int) (Decision, error)
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// bucketShape is the capacity and refill window shared by every backend.
type bucketShape struct {
	capacity int64
	window   time.Duration
}

func newBucketShape(capacity int, window time.Duration) (bucketShape, error) {
	if capacity <= 0 {
		return bucketShape{}, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return bucketShape{}, errors.New("window must be positive")
	}
	return bucketShape{capacity: int64(capacity), window: window}, nil
}

// cost caps a request's price to [1, capacity] so one large request can still
// pass a full bucket.
func (b bucketShape) cost(n int) int64 {
	return min(max(int64(n), 1), b.capacity)
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return anonymousSubject
	}
	return subject
}
