package outbox

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"server/internal/domain"
	"server/internal/infra"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 20
)

// Drainer moves durable outbox rows onto the downstream media queue. Pushing
// then marking means a crash between the two re-delivers the message; the
// consumer de-duplicates by job id, which is cheaper than losing fan-out.
type Drainer struct {
	outbox       domain.OutboxRepository
	rdb          *goredis.Client
	queueKey     string
	logger       infra.Logger
	PollInterval time.Duration
	BatchSize    int
}

// NewDrainer builds an outbox drainer targeting the given Redis list.
func NewDrainer(outbox domain.OutboxRepository, rdb *goredis.Client, queueKey string, logger infra.Logger) *Drainer {
	return &Drainer{
		outbox:       outbox,
		rdb:          rdb,
		queueKey:     queueKey,
		logger:       logger,
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
}

// Run drains pending messages until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("outbox: drain pass failed")
			}
		}
	}
}

// DrainOnce pushes one batch of pending messages to the queue.
func (d *Drainer) DrainOnce(ctx context.Context) error {
	msgs, err := d.outbox.ListPending(ctx, d.BatchSize)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := d.rdb.LPush(ctx, d.queueKey, msg.PayloadJSON).Err(); err != nil {
			return err
		}
		if err := d.outbox.MarkDispatched(ctx, msg.ID); err != nil {
			return err
		}
		d.logger.Info().Str("job_id", msg.JobID).Str("topic", msg.Topic).Msg("outbox: dispatched")
	}
	return nil
}
