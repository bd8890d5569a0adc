package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"server/internal/domain"
)

// RunStep gives a side-effecting unit at-most-one effective execution per
// job. The memoization log is consulted first; a recorded result is returned
// without invoking fn, so replays after a crash or retry are no-ops. A failed
// fn leaves the step unrecorded and the caller's retry policy decides
// re-invocation.
//
// Step names must be unique within a job execution; sibling parallel steps
// must embed a stable slot index in the name.
func RunStep[T any](ctx context.Context, steps domain.StepRepository, jobID, stepName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	rec, err := steps.Get(ctx, jobID, stepName)
	if err == nil {
		var out T
		if err := json.Unmarshal(rec.ResultJSON, &out); err != nil {
			return zero, fmt.Errorf("step %s: decode recorded result: %w", stepName, err)
		}
		return out, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return zero, &domain.StoreError{Op: fmt.Sprintf("step %s: lookup", stepName), Err: err}
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	resultJSON, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("step %s: encode result: %w", stepName, err)
	}

	stored, err := steps.Record(ctx, &domain.StepRecord{
		JobID:      jobID,
		StepName:   stepName,
		ResultJSON: resultJSON,
	})
	if err != nil {
		return zero, &domain.StoreError{Op: fmt.Sprintf("step %s: record", stepName), Err: err}
	}

	// A concurrent process may have recorded the step first; the stored
	// result is canonical either way.
	var final T
	if err := json.Unmarshal(stored.ResultJSON, &final); err != nil {
		return zero, fmt.Errorf("step %s: decode stored result: %w", stepName, err)
	}
	return final, nil
}
