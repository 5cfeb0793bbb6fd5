package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout  = 30 * time.Minute
	DefaultMaxRetry = 2
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher submits jobs and forgets them; it never reads job state back.
type Dispatcher struct {
	client   enqueuer
	maxRetry int
}

// NewDispatcher accepts an *asynq.Client.
func NewDispatcher(client enqueuer, maxRetry int) *Dispatcher {
	if maxRetry < 0 {
		maxRetry = DefaultMaxRetry
	}
	return &Dispatcher{client: client, maxRetry: maxRetry}
}

// Enqueue returns as soon as the queue backend has stored the task.
func (d *Dispatcher) Enqueue(ctx context.Context, p DownloadPayload, timeout time.Duration) (string, error) {
	p.JobID = uuid.NewString()
	return d.submit(ctx, TaskDownload, p.JobID, p, timeout)
}

func (d *Dispatcher) EnqueueTrim(ctx context.Context, p TrimPayload, timeout time.Duration) (string, error) {
	p.JobID = uuid.NewString()
	return d.submit(ctx, TaskTrim, p.JobID, p, timeout)
}

func (d *Dispatcher) submit(ctx context.Context, typ, id string, payload any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(typ, b),
		asynq.TaskID(id),
		asynq.Queue(QueueDownloads),
		asynq.Timeout(timeout),
		asynq.MaxRetry(d.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", typ, err)
	}
	log.Info().Str("task", typ).Str("job_id", info.ID).Str("queue", info.Queue).Msg("job enqueued")
	return info.ID, nil
}
