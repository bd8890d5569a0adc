package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrJobTerminal = errors.New("job already terminal")
	ErrCancelled   = errors.New("job cancelled")
)

// ProviderError wraps a failed or malformed response from the LLM provider.
// These are transient from the pipeline's point of view and may be retried
// with backoff.
type ProviderError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: provider timeout", e.Op)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: provider status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err is a transient provider failure.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// StoreError wraps a failed read or write against backing storage during a
// pipeline step. Like provider failures these are transient and may be
// retried with backoff.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err is a transient storage failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ValidationError reports a stage output that fails its required-field
// contract. Missing always carries every absent field path, never a prefix.
type ValidationError struct {
	Stage   string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s output invalid, missing fields: %s", e.Stage, strings.Join(e.Missing, ", "))
}

// IsValidationError reports whether err is a semantic validation failure,
// which the infrastructure never auto-retries.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PrerequisiteMissingError means a referenced category, author or brand does
// not exist. The pipeline aborts before any stage runs.
type PrerequisiteMissingError struct {
	Kind string
	ID   string
}

func (e *PrerequisiteMissingError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// RevisionError is the designed soft failure: the review stage executed but
// requested changes. Distinct from a technical fault so operators can
// re-trigger instead of debugging.
type RevisionError struct {
	Score float64
	Fixes []string
}

func (e *RevisionError) Error() string {
	msg := fmt.Sprintf("review requested changes (quality score %.0f)", e.Score)
	if len(e.Fixes) > 0 {
		msg += ": " + strings.Join(e.Fixes, "; ")
	}
	return msg
}

// IsRevisionError reports whether err is the review quality-gate soft stop.
func IsRevisionError(err error) bool {
	var re *RevisionError
	return errors.As(err, &re)
}
