package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"server/internal/infra"
)

// CancellationToken is polled by the orchestrator at stage boundaries only;
// an in-flight memoized step always finishes so the store stays consistent.
type CancellationToken interface {
	Cancelled() bool
}

// CancellationSource correlates out-of-band cancel requests purely by job
// id. Requests may originate in a different process than the executing one.
type CancellationSource interface {
	Subscribe(ctx context.Context, jobID string) (CancellationToken, func(), error)
}

const cancelKeyTTL = 24 * time.Hour

func cancelKey(jobID string) string { return "pipeline:cancel:" + jobID }

// RedisCancellation signals cancellation through a Redis key (so requests
// made before the worker subscribed are still seen) and a pub/sub channel
// (so running jobs observe requests without polling Redis).
type RedisCancellation struct {
	rdb     *goredis.Client
	channel string
	logger  infra.Logger
}

// NewRedisCancellation builds the shared cancellation source.
func NewRedisCancellation(rdb *goredis.Client, channel string, logger infra.Logger) *RedisCancellation {
	return &RedisCancellation{rdb: rdb, channel: channel, logger: logger}
}

// RequestCancel is the ingress side: record the request durably enough for a
// late subscriber and notify any worker currently running the job.
func (c *RedisCancellation) RequestCancel(ctx context.Context, jobID string) error {
	if err := c.rdb.Set(ctx, cancelKey(jobID), "1", cancelKeyTTL).Err(); err != nil {
		return fmt.Errorf("set cancel key: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.channel, jobID).Err(); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

type redisToken struct {
	cancelled atomic.Bool
}

func (t *redisToken) Cancelled() bool { return t.cancelled.Load() }

// Subscribe returns a token for the job plus a stop function releasing the
// subscription. The key is checked once up front so a cancel issued before
// the job was claimed is not lost.
func (c *RedisCancellation) Subscribe(ctx context.Context, jobID string) (CancellationToken, func(), error) {
	token := &redisToken{}

	n, err := c.rdb.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check cancel key: %w", err)
	}
	if n > 0 {
		token.cancelled.Store(true)
		return token, func() {}, nil
	}

	sub := c.rdb.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe cancel channel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if m.Payload == jobID {
					token.cancelled.Store(true)
				}
			}
		}
	}()

	stop := func() {
		close(done)
		_ = sub.Close()
	}
	return token, stop, nil
}

var _ CancellationSource = (*RedisCancellation)(nil)
