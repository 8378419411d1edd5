package store

import (
	"context"

	"github.com/dunamismax/pixelfx/internal/domain"
)

var ErrJobNotFound = domain.ErrJobNotFound

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	RecordOutput(ctx context.Context, id, outputKey string) (domain.Job, error)
	RecordFailure(ctx context.Context, id, reason string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
