package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/llm"
)

// In-memory fakes covering every repository the orchestrator touches.

type fakeJobRepo struct {
	jobs       map[string]*domain.Job
	progresses []int
	statuses   []domain.JobStatus
	// failNextCompleted makes the next completed-status write fail once,
	// simulating a crash between the artifact transaction and the terminal
	// job update.
	failNextCompleted bool
}

func newFakeJobRepo(job *domain.Job) *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*domain.Job{job.ID: job}}
}

func (f *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobRepo) ClaimNextPending(context.Context) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) Update(_ context.Context, jobID string, update domain.JobUpdate) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() && update.Status != nil {
		return domain.ErrJobTerminal
	}
	if f.failNextCompleted && update.Status != nil && *update.Status == domain.JobStatusCompleted {
		f.failNextCompleted = false
		return errors.New("write timeout")
	}
	if update.Status != nil {
		job.Status = *update.Status
		f.statuses = append(f.statuses, *update.Status)
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
		f.progresses = append(f.progresses, *update.Progress)
	}
	if update.CurrentStage != nil {
		job.CurrentStage = *update.CurrentStage
	}
	if update.StatusMessage != nil {
		job.StatusMessage = *update.StatusMessage
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.StageOutputs != nil {
		job.StageOutputs = update.StageOutputs
	}
	if update.TokensUsed != nil {
		job.TokensUsed = *update.TokensUsed
	}
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

type fakeStageRepo struct {
	stages map[string]*domain.JobStage
	order  []string
}

func newFakeStageRepo() *fakeStageRepo {
	return &fakeStageRepo{stages: map[string]*domain.JobStage{}}
}

func (f *fakeStageRepo) Create(_ context.Context, stage *domain.JobStage) error {
	copied := *stage
	f.stages[stage.ID] = &copied
	f.order = append(f.order, stage.ID)
	return nil
}

func (f *fakeStageRepo) Finalize(_ context.Context, stageID string, fin domain.StageFinalize) error {
	stage, ok := f.stages[stageID]
	if !ok || stage.Status != domain.StageStatusRunning {
		return domain.ErrJobTerminal
	}
	stage.Status = fin.Status
	stage.OutputJSON = fin.OutputJSON
	stage.ErrorMessage = fin.ErrorMessage
	stage.TokensUsed = fin.TokensUsed
	now := time.Now()
	stage.CompletedAt = &now
	return nil
}

func (f *fakeStageRepo) ListByJobID(_ context.Context, jobID string) ([]domain.JobStage, error) {
	var out []domain.JobStage
	for _, id := range f.order {
		if f.stages[id].JobID == jobID {
			out = append(out, *f.stages[id])
		}
	}
	return out, nil
}

type fakeArticleRepo struct {
	saved        []*domain.Article
	knowledgeIDs []string
	outbox       []domain.OutboxMessage
}

func (f *fakeArticleRepo) SaveWithCounters(_ context.Context, article *domain.Article, knowledgeIDs []string, outbox []domain.OutboxMessage) error {
	f.saved = append(f.saved, article)
	f.knowledgeIDs = knowledgeIDs
	f.outbox = append(f.outbox, outbox...)
	return nil
}

func (f *fakeArticleRepo) GetByJobID(_ context.Context, jobID string) (*domain.Article, error) {
	for _, a := range f.saved {
		if a.JobID == jobID {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeContextRepo struct {
	missingKind string
}

func (f *fakeContextRepo) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	if f.missingKind == "category" {
		return nil, domain.ErrNotFound
	}
	return &domain.Category{ID: id, Name: "Coffee"}, nil
}

func (f *fakeContextRepo) GetAuthor(_ context.Context, id string) (*domain.Author, error) {
	if f.missingKind == "author" {
		return nil, domain.ErrNotFound
	}
	return &domain.Author{ID: id, Name: "Ana", Tone: "warm"}, nil
}

func (f *fakeContextRepo) GetBrand(_ context.Context, id string) (*domain.Brand, error) {
	if f.missingKind == "brand" {
		return nil, domain.ErrNotFound
	}
	return &domain.Brand{ID: id, Name: "Beanhaus", Voice: "direct"}, nil
}

func (f *fakeContextRepo) ListKnowledge(_ context.Context, categoryID string, _ int) ([]domain.KnowledgeItem, error) {
	return []domain.KnowledgeItem{{ID: "k-1", Title: "Roast levels", Excerpt: "...", CategoryID: categoryID}}, nil
}

func (f *fakeContextRepo) ListPublished(context.Context, string, int) ([]domain.PublishedRef, error) {
	return []domain.PublishedRef{{Slug: "v60-guide", Title: "V60 Guide"}}, nil
}

type fakePromptRepo struct{}

func (fakePromptRepo) GetByStage(context.Context, string) (string, error) {
	return "", domain.ErrNotFound
}

// fakeNotifier counts terminal notifications per kind.
type fakeNotifier struct {
	completed int
	failed    int
	revision  int
	lastScore float64
}

func (f *fakeNotifier) JobCompleted(context.Context, *domain.Job, *domain.Article) error {
	f.completed++
	return nil
}

func (f *fakeNotifier) JobFailed(context.Context, *domain.Job, string) error {
	f.failed++
	return nil
}

func (f *fakeNotifier) JobRevisionRequested(_ context.Context, _ *domain.Job, score float64, _ []string) error {
	f.revision++
	f.lastScore = score
	return nil
}

func (f *fakeNotifier) total() int { return f.completed + f.failed + f.revision }

// staticToken cancels at a fixed stage boundary (0 = never).
type staticToken struct {
	checks      int
	cancelAfter int
}

func (s *staticToken) Cancelled() bool {
	s.checks++
	return s.cancelAfter > 0 && s.checks > s.cancelAfter
}

type fakeCancels struct {
	token *staticToken
}

func (f *fakeCancels) Subscribe(context.Context, string) (CancellationToken, func(), error) {
	return f.token, func() {}, nil
}

// scriptedLLM returns a canned JSON document per stage model call, keyed by
// the stage name embedded in the user prompt.
type scriptedLLM struct {
	responses map[string]string
	calls     []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	for stage, body := range s.responses {
		if strings.HasPrefix(req.User, "Stage: "+stage+"\n") {
			s.calls = append(s.calls, stage)
			return &llm.Response{JSON: []byte(body), TokensUsed: 100}, nil
		}
	}
	return nil, fmt.Errorf("no scripted response for prompt %q", req.User[:40])
}

func happyPathResponses(reviewStatus string, score float64) map[string]string {
	return map[string]string{
		StageIdeation: `{
			"selected_topics": [{"primary_keyword": "pour over coffee", "title_candidates": ["The Pour Over Primer"]}],
			"conversion_goal": "newsletter signup"
		}`,
		StageStructure: `{
			"risk_level": "low",
			"outline": [{"heading": "Why pour over"}],
			"must_answer_questions": ["what grind size"],
			"image_plan": [{"placement": "hero", "concept": "gooseneck kettle"}]
		}`,
		StageDraft: `{
			"meta": {"title": "The Pour Over Primer", "meta_title": "Pour Over Primer", "meta_description": "Learn pour over."},
			"blocks": [{"id": "b1", "type": "paragraph", "content": "Pour over rewards patience."}],
			"image_jobs": [{"block_id": "b1", "prompt": "gooseneck kettle pouring"}]
		}`,
		StageOptimize: `{
			"meta": {"title": "The Pour Over Primer", "meta_title": "Pour Over Primer", "meta_description": "Learn pour over."},
			"blocks": [{"id": "b1", "type": "paragraph", "content": "Pour over rewards patience and precision."}],
			"summary": "A practical pour over guide.",
			"key_takeaways": ["grind matters"]
		}`,
		StageReview: fmt.Sprintf(`{
			"status": %q,
			"final_blocks": [{"id": "b1", "type": "paragraph", "content": "Pour over rewards patience and precision."}],
			"final_meta": {"title": "The Pour Over Primer", "meta_title": "Pour Over Primer", "meta_description": "Learn pour over."},
			"quality_score": %g,
			"required_fixes": %s
		}`, reviewStatus, score, fixesJSON(reviewStatus)),
	}
}

func fixesJSON(status string) string {
	if status == domain.ReviewNeedsChanges {
		return `["cite grind size sources"]`
	}
	return `[]`
}

type orchestratorHarness struct {
	orch     *Orchestrator
	jobs     *fakeJobRepo
	stages   *fakeStageRepo
	steps    *fakeStepRepo
	articles *fakeArticleRepo
	notifier *fakeNotifier
	llm      *scriptedLLM
	job      *domain.Job
}

func newHarness(llmResponses map[string]string, token *staticToken) *orchestratorHarness {
	job := &domain.Job{
		ID:         "job-1",
		Keyword:    "pour over coffee",
		CategoryID: "cat-1",
		AuthorID:   "auth-1",
		BrandID:    "brand-1",
		UserID:     "user-1",
		Status:     domain.JobStatusRunning,
	}
	jobs := newFakeJobRepo(job)
	stages := newFakeStageRepo()
	steps := newFakeStepRepo()
	articles := &fakeArticleRepo{}
	notifier := &fakeNotifier{}
	scripted := &scriptedLLM{responses: llmResponses}

	ex := &Executor{
		Stages:  stages,
		Steps:   steps,
		Prompts: fakePromptRepo{},
		LLM:     scripted,
		Retry:   RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		Logger:  zerolog.Nop(),
	}
	orch := &Orchestrator{
		Jobs:     jobs,
		Articles: articles,
		Context:  &fakeContextRepo{},
		Executor: ex,
		Cancels:  &fakeCancels{token: token},
		Notifier: notifier,
		Logger:   zerolog.Nop(),
	}
	return &orchestratorHarness{
		orch: orch, jobs: jobs, stages: stages, steps: steps,
		articles: articles, notifier: notifier, llm: scripted, job: job,
	}
}

func TestOrchestratorCompletesJob(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 88), &staticToken{})

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	if len(h.articles.saved) != 1 {
		t.Fatalf("articles saved = %d, want 1", len(h.articles.saved))
	}
	article := h.articles.saved[0]
	if article.Title != "The Pour Over Primer" {
		t.Fatalf("title = %q", article.Title)
	}
	if !strings.HasPrefix(article.Slug, "the-pour-over-primer-") {
		t.Fatalf("slug = %q, want title slug with job suffix", article.Slug)
	}
	if article.QualityScore != 88 {
		t.Fatalf("quality_score = %v, want 88", article.QualityScore)
	}
	if h.notifier.completed != 1 || h.notifier.total() != 1 {
		t.Fatalf("notifications = %+v, want exactly one completion", h.notifier)
	}
	if len(h.llm.calls) != StageCount {
		t.Fatalf("llm calls = %v, want one per stage", h.llm.calls)
	}
	if h.articles.knowledgeIDs[0] != "k-1" {
		t.Fatalf("knowledge ids = %v, want counter bump for k-1", h.articles.knowledgeIDs)
	}
}

func TestOrchestratorWritesOutboxForImageJobs(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The draft declared image jobs and the optimizer omitted them, so the
	// repaired list flows into one outbox message.
	if len(h.articles.outbox) != 1 {
		t.Fatalf("outbox = %d messages, want 1", len(h.articles.outbox))
	}
	msg := h.articles.outbox[0]
	if msg.Topic != MediaTopic {
		t.Fatalf("topic = %q, want %q", msg.Topic, MediaTopic)
	}
	var payload domain.ImageJobsPayload
	if err := json.Unmarshal(msg.PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.ImageJobs) != 1 || payload.ImageJobs[0].Prompt != "gooseneck kettle pouring" {
		t.Fatalf("payload = %+v, want draft image job inherited", payload)
	}
	if payload.ArticleID != h.articles.saved[0].ID {
		t.Fatalf("payload article id = %q, want %q", payload.ArticleID, h.articles.saved[0].ID)
	}
}

func TestOrchestratorRevisionRequested(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewNeedsChanges, 55), &staticToken{})

	err := h.orch.Run(context.Background(), "job-1")
	if !domain.IsRevisionError(err) {
		t.Fatalf("err = %v, want revision error", err)
	}

	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "55") {
		t.Fatalf("error message = %q, want quality score surfaced", job.ErrorMessage)
	}
	if len(h.articles.saved) != 0 {
		t.Fatalf("article saved despite needs_changes")
	}
	if h.notifier.revision != 1 || h.notifier.total() != 1 {
		t.Fatalf("notifications = %+v, want exactly one revision request", h.notifier)
	}
	if h.notifier.lastScore != 55 {
		t.Fatalf("notified score = %v, want 55", h.notifier.lastScore)
	}
}

func TestOrchestratorCancellationAtBoundary(t *testing.T) {
	// Cancel after the second boundary check: stages 1 and 2 run, stage 3
	// must never start.
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{cancelAfter: 2})

	err := h.orch.Run(context.Background(), "job-1")
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("err = %v, want cancellation", err)
	}

	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.ErrorMessage != "cancelled" {
		t.Fatalf("error message = %q, want cancelled", job.ErrorMessage)
	}
	if len(h.llm.calls) != 2 {
		t.Fatalf("llm calls = %v, want exactly stages before the cancel", h.llm.calls)
	}
	stages, _ := h.stages.ListByJobID(context.Background(), "job-1")
	for _, s := range stages {
		if s.StageNumber >= 3 {
			t.Fatalf("stage %d created after cancellation", s.StageNumber)
		}
	}
	if h.notifier.failed != 1 || h.notifier.total() != 1 {
		t.Fatalf("notifications = %+v, want one failure", h.notifier)
	}
	if len(h.articles.saved) != 0 {
		t.Fatalf("article saved despite cancellation")
	}
}

func TestOrchestratorCancelledBeforeStart(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{cancelAfter: 0})
	h.orch.Cancels = &fakeCancels{token: &staticToken{checks: 1, cancelAfter: 1}}

	err := h.orch.Run(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected cancellation before stage 1")
	}
	if len(h.llm.calls) != 0 {
		t.Fatalf("llm calls = %v, want none", h.llm.calls)
	}
}

func TestOrchestratorProgressMonotonic(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := -1
	for _, p := range h.jobs.progresses {
		if p < last {
			t.Fatalf("progress regressed: %v", h.jobs.progresses)
		}
		last = p
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestOrchestratorFinalizeRedeliveredOnce(t *testing.T) {
	// Crash simulation: the artifact transaction commits but the completed
	// update fails, so the job is re-delivered and Run executes again.
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})
	h.jobs.failNextCompleted = true

	err := h.orch.Run(context.Background(), "job-1")
	if err == nil || !strings.Contains(err.Error(), "mark completed") {
		t.Fatalf("first run err = %v, want failed completed update", err)
	}
	if h.jobs.jobs["job-1"].Status != domain.JobStatusRunning {
		t.Fatalf("status after crash = %q, want still running", h.jobs.jobs["job-1"].Status)
	}

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("re-delivered run: %v", err)
	}

	if len(h.articles.saved) != 1 {
		t.Fatalf("articles saved = %d, want exactly 1 across both runs", len(h.articles.saved))
	}
	if len(h.articles.outbox) != 1 {
		t.Fatalf("fan-out enqueued %d times, want exactly 1", len(h.articles.outbox))
	}
	if len(h.llm.calls) != StageCount {
		t.Fatalf("llm calls = %v, want recorded steps replayed without new calls", h.llm.calls)
	}
	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("job = %q/%d, want completed at 100", job.Status, job.Progress)
	}
	if h.notifier.completed != 1 || h.notifier.total() != 1 {
		t.Fatalf("notifications = %+v, want exactly one completion", h.notifier)
	}
}

func TestOrchestratorResumeDoesNotRegressProgress(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})
	h.job.Status = domain.JobStatusRunning
	h.job.Progress = 55

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, p := range h.jobs.progresses {
		if p < 55 {
			t.Fatalf("progress regressed below resume point: %v", h.jobs.progresses)
		}
	}
	if h.jobs.jobs["job-1"].Progress != 100 {
		t.Fatalf("final progress = %d, want 100", h.jobs.jobs["job-1"].Progress)
	}
}

func TestOrchestratorRevisionWithMinimalReviewPayload(t *testing.T) {
	// A rejection carrying only the verdict and the score must surface as
	// the quality gate, not as a validation failure.
	responses := happyPathResponses(domain.ReviewApproved, 90)
	responses[StageReview] = `{"status": "needs_changes", "quality_score": {"overall": 55}}`
	h := newHarness(responses, &staticToken{})

	err := h.orch.Run(context.Background(), "job-1")
	if !domain.IsRevisionError(err) {
		t.Fatalf("err = %v, want revision error", err)
	}
	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.ErrorMessage, "55") {
		t.Fatalf("job = %q/%q, want failed with score in message", job.Status, job.ErrorMessage)
	}
	if len(h.articles.saved) != 0 {
		t.Fatalf("article saved despite needs_changes")
	}
}

func TestOrchestratorValidationFailureFailsJob(t *testing.T) {
	responses := happyPathResponses(domain.ReviewApproved, 90)
	responses[StageStructure] = `{"image_plan": []}`
	h := newHarness(responses, &staticToken{})

	err := h.orch.Run(context.Background(), "job-1")
	if !domain.IsValidationError(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	job := h.jobs.jobs["job-1"]
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	// The failed stage record carries the error; later stages never started.
	stages, _ := h.stages.ListByJobID(context.Background(), "job-1")
	if len(stages) != 2 {
		t.Fatalf("stage records = %d, want ideation + failed structuring", len(stages))
	}
	if stages[1].Status != domain.StageStatusFailed {
		t.Fatalf("structuring status = %q, want failed", stages[1].Status)
	}
	if h.notifier.failed != 1 {
		t.Fatalf("notifications = %+v, want one failure", h.notifier)
	}
}

func TestOrchestratorPrerequisiteMissing(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})
	h.orch.Context = &fakeContextRepo{missingKind: "brand"}

	err := h.orch.Run(context.Background(), "job-1")
	var missing *domain.PrerequisiteMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want prerequisite missing", err)
	}
	if missing.Kind != "brand" {
		t.Fatalf("kind = %q, want brand", missing.Kind)
	}
	if len(h.llm.calls) != 0 {
		t.Fatalf("llm calls = %v, want none before context load", h.llm.calls)
	}
	if h.jobs.jobs["job-1"].Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", h.jobs.jobs["job-1"].Status)
	}
}

func TestOrchestratorSkipsTerminalJob(t *testing.T) {
	h := newHarness(happyPathResponses(domain.ReviewApproved, 90), &staticToken{})
	h.job.Status = domain.JobStatusCompleted

	if err := h.orch.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run on terminal job: %v", err)
	}
	if len(h.llm.calls) != 0 {
		t.Fatalf("llm calls = %v, want none for terminal job", h.llm.calls)
	}
	if h.notifier.total() != 0 {
		t.Fatalf("notifications = %+v, want none", h.notifier)
	}
}
