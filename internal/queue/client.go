package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: timeout,
	}
}

// EnqueueConvertImage schedules a conversion. The job id doubles as the
// task id so a job cannot be queued twice while its task is retained.
func (c *Client) EnqueueConvertImage(ctx context.Context, payload ConvertImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(3),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
