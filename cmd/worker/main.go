package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/outbox"
	"server/internal/pipeline"
	"server/internal/providers/llm"
)

const jobPollInterval = 2 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	llmClient, err := llm.NewClient(llm.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		CallTimeout:  cfg.LLMCallTimeout,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure llm client")
	}

	jobs := repo.NewJobRepository(pool)
	executor := &pipeline.Executor{
		Stages:  repo.NewStageRepository(pool),
		Steps:   repo.NewStepRepository(pool),
		Prompts: repo.NewPromptTemplateRepository(pool),
		LLM:     llmClient,
		Retry:   pipeline.DefaultRetryPolicy,
		Logger:  logger,
	}
	orchestrator := &pipeline.Orchestrator{
		Jobs:           jobs,
		Articles:       repo.NewArticleRepository(pool),
		Context:        repo.NewContextRepository(pool),
		Executor:       executor,
		Cancels:        pipeline.NewRedisCancellation(rdb, cfg.RedisCancelChan, logger),
		Notifier:       notify.NewEmitter(repo.NewNotificationRepository(pool), rdb, cfg.NotifyChannel, logger),
		Logger:         logger,
		KnowledgeLimit: cfg.KnowledgeLimit,
		PublishedLimit: cfg.PublishedLimit,
	}

	drainer := outbox.NewDrainer(repo.NewOutboxRepository(pool), rdb, cfg.MediaQueueKey, logger)
	go func() {
		if err := drainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: outbox drainer stopped")
		}
	}()

	w := &worker{
		jobs:         jobs,
		orchestrator: orchestrator,
		logger:       logger,
		slots:        make(chan struct{}, cfg.WorkerSlots),
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

type worker struct {
	jobs         domain.JobRepository
	orchestrator *pipeline.Orchestrator
	logger       infra.Logger
	slots        chan struct{}
}

// Run claims pending jobs and executes each pipeline in its own goroutine,
// bounded by the slot channel. A claimed job is already marked running, so
// the orchestrator only advances it from there.
func (w *worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		default:
		}

		job, err := w.jobs.ClaimNextPending(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				sleep(ctx, jobPollInterval)
				continue
			}
			if ctx.Err() != nil {
				w.drain()
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
			sleep(ctx, jobPollInterval)
			continue
		}

		w.slots <- struct{}{}
		go func(jobID string) {
			defer func() { <-w.slots }()
			w.logger.Info().Str("job_id", jobID).Msg("worker: picked job")
			if err := w.orchestrator.Run(ctx, jobID); err != nil {
				w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: job failed")
			}
		}(job.ID)
	}
}

// drain waits for in-flight jobs to finish their current durable step.
func (w *worker) drain() {
	for i := 0; i < cap(w.slots); i++ {
		w.slots <- struct{}{}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
