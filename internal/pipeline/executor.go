package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/llm"
)

// LLMClient is the provider contract the executor depends on.
type LLMClient interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// StageError is the terminal failure of one stage attempt. Retryable marks
// transient provider failures that already exhausted the bounded backoff.
type StageError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Executor runs a single pipeline stage end to end: durable stage record,
// memoized provider call, validation/repair, finalize.
type Executor struct {
	Stages  domain.StageRepository
	Steps   domain.StepRepository
	Prompts domain.PromptTemplateRepository
	LLM     LLMClient
	Retry   RetryPolicy
	Logger  infra.Logger
}

// stepResult is the serialized form of one memoized provider call.
type stepResult struct {
	JSON       json.RawMessage `json:"json"`
	TokensUsed int             `json:"tokens_used"`
}

// RunStage executes stage `number` for the job. The stage record is created
// before the provider call; the call itself runs through the memoization
// layer under the step name "stage_<n>:llm", so a crashed run replays the
// recorded response instead of paying for a second completion.
func RunStage[TOut any](ctx context.Context, ex *Executor, job *domain.Job, number int, input any, normalize func(raw []byte) (TOut, []string, error)) (TOut, int, error) {
	var zero TOut
	cfg := stageConfig(number)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return zero, 0, fmt.Errorf("stage %s: encode input: %w", cfg.Name, err)
	}

	system := cfg.SystemPrompt
	if override, err := ex.Prompts.GetByStage(ctx, cfg.Name); err == nil {
		system = override
	} else if !errors.Is(err, domain.ErrNotFound) {
		return zero, 0, fmt.Errorf("stage %s: load prompt override: %w", cfg.Name, err)
	}

	user, err := buildUserPrompt(cfg.Name, input)
	if err != nil {
		return zero, 0, err
	}

	stage := &domain.JobStage{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		StageNumber:   number,
		StageName:     cfg.Name,
		Status:        domain.StageStatusRunning,
		InputJSON:     inputJSON,
		PromptExcerpt: promptExcerpt(system, user),
	}
	if err := ex.Stages.Create(ctx, stage); err != nil {
		return zero, 0, fmt.Errorf("stage %s: create record: %w", cfg.Name, err)
	}

	stepName := fmt.Sprintf("stage_%d:llm", number)
	resp, err := withRetry(ctx, ex.Retry, func(ctx context.Context) (stepResult, error) {
		return RunStep(ctx, ex.Steps, job.ID, stepName, func(ctx context.Context) (stepResult, error) {
			out, err := ex.LLM.Complete(ctx, llm.Request{
				Model:       cfg.Model,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				System:      system,
				User:        user,
			})
			if err != nil {
				return stepResult{}, err
			}
			return stepResult{JSON: out.JSON, TokensUsed: out.TokensUsed}, nil
		})
	})
	if err != nil {
		if finErr := ex.finalizeFailed(ctx, stage.ID, err); finErr != nil {
			return zero, 0, finErr
		}
		return zero, 0, &StageError{Stage: cfg.Name, Retryable: domain.IsProviderError(err) || domain.IsStoreError(err), Err: err}
	}

	out, warnings, err := normalize(resp.JSON)
	if err != nil {
		if finErr := ex.finalizeFailed(ctx, stage.ID, err); finErr != nil {
			return zero, 0, finErr
		}
		return zero, 0, &StageError{Stage: cfg.Name, Retryable: false, Err: err}
	}
	for _, w := range warnings {
		ex.Logger.Warn().Str("job_id", job.ID).Str("stage", cfg.Name).Msg("stage output repaired: " + w)
	}

	outputJSON, err := json.Marshal(out)
	if err != nil {
		return zero, 0, fmt.Errorf("stage %s: encode output: %w", cfg.Name, err)
	}
	if err := ex.Stages.Finalize(ctx, stage.ID, domain.StageFinalize{
		Status:     domain.StageStatusCompleted,
		OutputJSON: outputJSON,
		TokensUsed: resp.TokensUsed,
	}); err != nil {
		return zero, 0, fmt.Errorf("stage %s: finalize: %w", cfg.Name, err)
	}

	return out, resp.TokensUsed, nil
}

func (ex *Executor) finalizeFailed(ctx context.Context, stageID string, cause error) error {
	if err := ex.Stages.Finalize(ctx, stageID, domain.StageFinalize{
		Status:       domain.StageStatusFailed,
		ErrorMessage: cause.Error(),
	}); err != nil {
		return fmt.Errorf("finalize failed stage: %w", err)
	}
	return nil
}
