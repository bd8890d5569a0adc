package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/infra"
)

// Notifier emits the single terminal notification for a job.
type Notifier interface {
	JobCompleted(ctx context.Context, job *domain.Job, article *domain.Article) error
	JobFailed(ctx context.Context, job *domain.Job, reason string) error
	JobRevisionRequested(ctx context.Context, job *domain.Job, score float64, fixes []string) error
}

// Orchestrator sequences the five stages of one job, threading each
// validated output into the next stage's input. Stages of a job never run in
// parallel; many jobs may run concurrently.
type Orchestrator struct {
	Jobs           domain.JobRepository
	Articles       domain.ArticleRepository
	Context        domain.ContextRepository
	Executor       *Executor
	Cancels        CancellationSource
	Notifier       Notifier
	Logger         infra.Logger
	KnowledgeLimit int
	PublishedLimit int
}

// MediaTopic is the outbox topic consumed by the image pipeline.
const MediaTopic = "media.image_jobs"

// Run executes the pipeline for jobID until a terminal outcome. The job
// row's terminal status and error are persisted before any error escapes, so
// the read model is never stale relative to the true outcome.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}

	token, stop, err := o.Cancels.Subscribe(ctx, job.ID)
	if err != nil {
		return o.failJob(ctx, job, fmt.Errorf("subscribe cancellation: %w", err))
	}
	defer stop()

	// Progress is deliberately left out: a resumed job keeps the value it
	// reached before the crash and only ever moves forward from there.
	running := domain.JobStatusRunning
	msg := "pipeline started"
	if err := o.Jobs.Update(ctx, job.ID, domain.JobUpdate{Status: &running, StatusMessage: &msg}); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	job.Status = running

	pctx, err := o.loadContext(ctx, job)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	facts := newContextFacts(pctx)

	outputs := domain.StageOutputs{}
	tokens := job.TokensUsed

	// Stage 1: ideation.
	if err := o.stageBoundary(ctx, job, token, 1); err != nil {
		return o.failJob(ctx, job, err)
	}
	idea, t, err := RunStage(ctx, o.Executor, job, 1, ideationInput{Keyword: job.Keyword, Context: facts}, normalizeIdeation)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	outputs.Ideation = &idea
	tokens += t
	if err := o.checkpoint(ctx, job, &outputs, tokens); err != nil {
		return o.failJob(ctx, job, err)
	}
	topic := idea.SelectedTopics[0]

	// Stage 2: structuring.
	if err := o.stageBoundary(ctx, job, token, 2); err != nil {
		return o.failJob(ctx, job, err)
	}
	structure, t, err := RunStage(ctx, o.Executor, job, 2, structureInput{Topic: topic, ConversionGoal: idea.ConversionGoal, Context: facts}, normalizeStructure)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	outputs.Structure = &structure
	tokens += t
	if err := o.checkpoint(ctx, job, &outputs, tokens); err != nil {
		return o.failJob(ctx, job, err)
	}

	// Stage 3: drafting.
	if err := o.stageBoundary(ctx, job, token, 3); err != nil {
		return o.failJob(ctx, job, err)
	}
	draft, t, err := RunStage(ctx, o.Executor, job, 3, draftInput{Topic: topic, Structure: structure, Context: facts}, normalizeDraft)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	outputs.Draft = &draft
	tokens += t
	if err := o.checkpoint(ctx, job, &outputs, tokens); err != nil {
		return o.failJob(ctx, job, err)
	}

	// Stage 4: optimization.
	if err := o.stageBoundary(ctx, job, token, 4); err != nil {
		return o.failJob(ctx, job, err)
	}
	optimized, t, err := RunStage(ctx, o.Executor, job, 4, optimizeInput{Draft: draft, Questions: structure.MustAnswerQuestions, Context: facts},
		func(raw []byte) (domain.OptimizeOutput, []string, error) { return normalizeOptimize(raw, draft) })
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	outputs.Optimize = &optimized
	tokens += t
	if err := o.checkpoint(ctx, job, &outputs, tokens); err != nil {
		return o.failJob(ctx, job, err)
	}

	// Stage 5: review.
	if err := o.stageBoundary(ctx, job, token, 5); err != nil {
		return o.failJob(ctx, job, err)
	}
	review, t, err := RunStage(ctx, o.Executor, job, 5, reviewInput{Optimized: optimized, RiskLevel: structure.RiskLevel, Context: facts}, normalizeReview)
	if err != nil {
		return o.failJob(ctx, job, err)
	}
	outputs.Review = &review
	tokens += t
	if err := o.checkpoint(ctx, job, &outputs, tokens); err != nil {
		return o.failJob(ctx, job, err)
	}

	if review.Status == domain.ReviewNeedsChanges {
		return o.failJob(ctx, job, &domain.RevisionError{Score: review.QualityScore, Fixes: review.RequiredFixes})
	}

	return o.finalize(ctx, job, pctx, &review, &optimized)
}

// finalize persists the artifact, counters and fan-out in one transaction,
// then marks the job completed and emits the success notification. The
// persistence runs as a memoized step, and the transaction itself is keyed
// on the article insert, so re-delivery after a crash between the artifact
// write and the completed update never duplicates counters or fan-out.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, pctx *domain.PipelineContext, review *domain.ReviewOutput, optimized *domain.OptimizeOutput) error {
	article, err := RunStep(ctx, o.Executor.Steps, job.ID, "finalize:artifact", func(ctx context.Context) (*domain.Article, error) {
		return o.persistArtifact(ctx, job, pctx, review, optimized)
	})
	if err != nil {
		return o.failJob(ctx, job, err)
	}

	completed := domain.JobStatusCompleted
	progress := progressCompleted
	msg := "article generated"
	if err := o.Jobs.Update(ctx, job.ID, domain.JobUpdate{Status: &completed, Progress: &progress, StatusMessage: &msg}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	job.Status = completed
	job.Progress = progress

	if err := o.Notifier.JobCompleted(ctx, job, article); err != nil {
		o.Logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: success notification failed")
	}
	o.Logger.Info().Str("job_id", job.ID).Str("article_id", article.ID).Msg("orchestrator: job completed")
	return nil
}

// persistArtifact builds the article with its counter bumps and fan-out rows
// and writes them in one transaction. The stored row is returned, so a replay
// that lost the race to insert still reports the canonical article.
func (o *Orchestrator) persistArtifact(ctx context.Context, job *domain.Job, pctx *domain.PipelineContext, review *domain.ReviewOutput, optimized *domain.OptimizeOutput) (*domain.Article, error) {
	blocksJSON, err := json.Marshal(review.FinalBlocks)
	if err != nil {
		return nil, fmt.Errorf("encode final blocks: %w", err)
	}

	article := &domain.Article{
		ID:              uuid.NewString(),
		JobID:           job.ID,
		CategoryID:      job.CategoryID,
		AuthorID:        job.AuthorID,
		BrandID:         job.BrandID,
		Slug:            slugify(review.FinalMeta.Title) + "-" + shortID(job.ID),
		Title:           review.FinalMeta.Title,
		MetaTitle:       review.FinalMeta.MetaTitle,
		MetaDescription: review.FinalMeta.MetaDescription,
		BlocksJSON:      blocksJSON,
		Summary:         optimized.Summary,
		QualityScore:    review.QualityScore,
	}

	knowledgeIDs := make([]string, 0, len(pctx.Knowledge))
	for _, k := range pctx.Knowledge {
		knowledgeIDs = append(knowledgeIDs, k.ID)
	}

	var outbox []domain.OutboxMessage
	if len(optimized.ImageJobs) > 0 {
		payload, err := json.Marshal(domain.ImageJobsPayload{
			ArticleID: article.ID,
			JobID:     job.ID,
			ImageJobs: optimized.ImageJobs,
		})
		if err != nil {
			return nil, fmt.Errorf("encode fan-out payload: %w", err)
		}
		outbox = append(outbox, domain.OutboxMessage{
			ID:          uuid.NewString(),
			JobID:       job.ID,
			Topic:       MediaTopic,
			PayloadJSON: payload,
			Status:      domain.OutboxPending,
		})
	}

	if err := o.Articles.SaveWithCounters(ctx, article, knowledgeIDs, outbox); err != nil {
		return nil, fmt.Errorf("persist article: %w", err)
	}

	saved, err := o.Articles.GetByJobID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load persisted article: %w", err)
	}
	return saved, nil
}

// stageBoundary is the only cancellation checkpoint and advances the static
// progress table. Progress never decreases.
func (o *Orchestrator) stageBoundary(ctx context.Context, job *domain.Job, token CancellationToken, number int) error {
	if token.Cancelled() {
		return domain.ErrCancelled
	}
	cfg := stageConfig(number)
	progress := cfg.Progress
	if progress < job.Progress {
		progress = job.Progress
	}
	msg := fmt.Sprintf("running stage %d/%d: %s", number, StageCount, cfg.Name)
	if err := o.Jobs.Update(ctx, job.ID, domain.JobUpdate{
		Progress:      &progress,
		CurrentStage:  &cfg.Name,
		StatusMessage: &msg,
	}); err != nil {
		return fmt.Errorf("advance to stage %s: %w", cfg.Name, err)
	}
	job.Progress = progress
	job.CurrentStage = cfg.Name
	return nil
}

// checkpoint persists the aggregated outputs and token count after each
// completed stage.
func (o *Orchestrator) checkpoint(ctx context.Context, job *domain.Job, outputs *domain.StageOutputs, tokens int) error {
	blob, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode stage outputs: %w", err)
	}
	if err := o.Jobs.Update(ctx, job.ID, domain.JobUpdate{StageOutputs: blob, TokensUsed: &tokens}); err != nil {
		return fmt.Errorf("checkpoint outputs: %w", err)
	}
	job.StageOutputs = blob
	job.TokensUsed = tokens
	return nil
}

// failJob persists the terminal failure before the error escapes, then emits
// the matching notification exactly once.
func (o *Orchestrator) failJob(ctx context.Context, job *domain.Job, cause error) error {
	failed := domain.JobStatusFailed
	reason := cause.Error()
	msg := "pipeline failed"
	var revision *domain.RevisionError
	switch {
	case errors.Is(cause, domain.ErrCancelled):
		reason = "cancelled"
		msg = "pipeline cancelled"
	case errors.As(cause, &revision):
		msg = "revision requested"
	}

	if err := o.Jobs.Update(ctx, job.ID, domain.JobUpdate{
		Status:        &failed,
		ErrorMessage:  &reason,
		StatusMessage: &msg,
	}); err != nil && !errors.Is(err, domain.ErrJobTerminal) {
		o.Logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: persist failure state")
	}
	job.Status = failed
	job.ErrorMessage = reason

	var notifyErr error
	if revision != nil {
		notifyErr = o.Notifier.JobRevisionRequested(ctx, job, revision.Score, revision.Fixes)
	} else {
		notifyErr = o.Notifier.JobFailed(ctx, job, reason)
	}
	if notifyErr != nil {
		o.Logger.Error().Err(notifyErr).Str("job_id", job.ID).Msg("orchestrator: terminal notification failed")
	}

	o.Logger.Warn().Str("job_id", job.ID).Str("reason", reason).Msg("orchestrator: job failed")
	return cause
}

// loadContext fetches the shared read-only context with bounded parallelism.
// A missing category, author or brand aborts before any stage runs.
func (o *Orchestrator) loadContext(ctx context.Context, job *domain.Job) (*domain.PipelineContext, error) {
	var pctx domain.PipelineContext

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	g.Go(func() error {
		category, err := o.Context.GetCategory(gctx, job.CategoryID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.PrerequisiteMissingError{Kind: "category", ID: job.CategoryID}
			}
			return err
		}
		pctx.Category = *category
		return nil
	})
	g.Go(func() error {
		author, err := o.Context.GetAuthor(gctx, job.AuthorID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.PrerequisiteMissingError{Kind: "author", ID: job.AuthorID}
			}
			return err
		}
		pctx.Author = *author
		return nil
	})
	g.Go(func() error {
		brand, err := o.Context.GetBrand(gctx, job.BrandID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.PrerequisiteMissingError{Kind: "brand", ID: job.BrandID}
			}
			return err
		}
		pctx.Brand = *brand
		return nil
	})
	g.Go(func() error {
		knowledge, err := o.Context.ListKnowledge(gctx, job.CategoryID, o.knowledgeLimit())
		if err != nil {
			return fmt.Errorf("list knowledge: %w", err)
		}
		pctx.Knowledge = knowledge
		return nil
	})
	g.Go(func() error {
		published, err := o.Context.ListPublished(gctx, job.CategoryID, o.publishedLimit())
		if err != nil {
			return fmt.Errorf("list published: %w", err)
		}
		pctx.Published = published
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pctx, nil
}

func (o *Orchestrator) knowledgeLimit() int {
	if o.KnowledgeLimit > 0 {
		return o.KnowledgeLimit
	}
	return 8
}

func (o *Orchestrator) publishedLimit() int {
	if o.PublishedLimit > 0 {
		return o.PublishedLimit
	}
	return 20
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
