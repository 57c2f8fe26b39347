package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const DefaultQueueKey = "appointly:mail"

// Queue is a Sender that pushes emails onto a Redis list. A Worker pops
// them and hands them to the real sender.
type Queue struct {
	client *redis.Client
	key    string
}

func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key}
}

func (q *Queue) Send(ctx context.Context, e Email) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

type WorkerConfig struct {
	// PollTimeout bounds each blocking pop so Run notices cancellation.
	PollTimeout time.Duration
	MaxRetries  uint64
	BaseBackoff time.Duration
}

type Worker struct {
	queue    *Queue
	delivery Sender
	cfg      WorkerConfig
	logger   *zap.Logger
}

func NewWorker(queue *Queue, delivery Sender, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	return &Worker{queue: queue, delivery: delivery, cfg: cfg, logger: logger}
}

// Run pops and delivers emails until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.processOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("mail queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.BaseBackoff):
			}
		}
	}
}

// processOne waits for at most one queued email and delivers it. Only queue
// errors are returned; delivery failures are logged and dropped once the
// retry budget is spent.
func (w *Worker) processOne(ctx context.Context) error {
	res, err := w.queue.client.BRPop(ctx, w.cfg.PollTimeout, w.queue.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(res) != 2 {
		return fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var e Email
	if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
		w.logger.Error("discarding malformed email payload", zap.Error(err))
		return nil
	}
	if err := e.Validate(); err != nil {
		w.logger.Error("discarding invalid email", zap.Error(err))
		return nil
	}

	if err := w.deliver(ctx, e); err != nil {
		w.logger.Error("email delivery failed",
			zap.String("to", e.Recipient()),
			zap.String("subject", e.Subject),
			zap.Error(err),
		)
		return nil
	}
	w.logger.Info("email delivered", zap.String("to", e.Recipient()), zap.String("subject", e.Subject))
	return nil
}

func (w *Worker) deliver(ctx context.Context, e Email) error {
	backoff := retry.WithMaxRetries(w.cfg.MaxRetries, retry.NewExponential(w.cfg.BaseBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.delivery.Send(ctx, e); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
