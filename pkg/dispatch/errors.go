package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is wrapped by every RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrRetriesExhausted is wrapped by every RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("dispatch retries exhausted")

	// ErrNotRetryable wraps a start failure that left an execution behind.
	ErrNotRetryable = errors.New("dispatch failed after the execution was stored")

	// ErrTriggerInactive indicates a trigger that exists but is switched off.
	ErrTriggerInactive = errors.New("trigger is inactive")

	// ErrTriggerMismatch indicates a trigger bound to another workflow.
	ErrTriggerMismatch = errors.New("trigger does not belong to workflow")
)

// RateLimitError rejects a dispatch before anything runs.
type RateLimitError struct {
	Key               string
	Window            string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%s window), retry after %ds", e.Key, e.Window, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// RetriesExhaustedError reports a dispatch that failed on every attempt and
// was handed to the dead-letter sink.
type RetriesExhaustedError struct {
	WorkflowID   string
	Attempts     int
	DeadLetterID string
	LastErr      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("dispatch of workflow %s failed after %d attempts: %v", e.WorkflowID, e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.LastErr}
}
