package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	DefaultQueue       = "default"
	DefaultMaxRetry    = 5
	DefaultTaskTimeout = 3 * time.Minute
)

// ErrAlreadyQueued means a task for the job is still known to the broker.
var ErrAlreadyQueued = errors.New("job is already queued")

// Options tune every enqueued task. A zero MaxRetry disables retries; a
// negative one selects DefaultMaxRetry.
type Options struct {
	Queue       string
	MaxRetry    int
	TaskTimeout time.Duration
}

type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	return &Client{client: asynq.NewClient(redisOpt), opts: opts}
}

// TaskOptions keys the task by job ID so a job is never queued twice.
func (c *Client) TaskOptions(jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.opts.Queue),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.TaskTimeout),
		asynq.TaskID(jobID),
	}
}

func (c *Client) EnqueueApplyEffect(ctx context.Context, payload ApplyEffectPayload) (*asynq.TaskInfo, error) {
	task, err := NewApplyEffectTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.TaskOptions(payload.JobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("enqueue %s: %w", payload.JobID, ErrAlreadyQueued)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", payload.JobID, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
