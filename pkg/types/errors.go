package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrSandboxRecordNotFound is returned when no usable record exists for a
// (user, template) pair.
type ErrSandboxRecordNotFound struct {
	UserId   string
	Template string
}

func (e *ErrSandboxRecordNotFound) Error() string {
	return fmt.Sprintf("sandbox record not found: %s/%s", e.UserId, e.Template)
}

// From checks if the given error is an ErrSandboxRecordNotFound
func (e *ErrSandboxRecordNotFound) From(err error) bool {
	var notFound *ErrSandboxRecordNotFound
	return errors.As(err, &notFound)
}

// ErrEntitlementDenied is returned when a premium-only feature is requested
// by a non-premium user. Non-retryable; the orchestration loop never starts.
type ErrEntitlementDenied struct {
	UserId  string
	Feature string
}

func (e *ErrEntitlementDenied) Error() string {
	return fmt.Sprintf("feature %q requires a premium subscription", e.Feature)
}

// ErrRateLimited carries the time remaining until the caller may retry.
type ErrRateLimited struct {
	Feature    string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit reached for %q, retry in %s", e.Feature, e.RetryAfter.Round(time.Second))
}

// ErrSandboxUnavailable indicates a transport-level failure talking to the
// remote execution service. The sandbox is killed and the user is told to
// retry later.
type ErrSandboxUnavailable struct {
	SandboxId string
	Cause     error
}

func (e *ErrSandboxUnavailable) Error() string {
	return fmt.Sprintf("sandbox %s unavailable: %v", e.SandboxId, e.Cause)
}

func (e *ErrSandboxUnavailable) Unwrap() error { return e.Cause }

// ErrCommandTimeout indicates command execution exceeded its window.
type ErrCommandTimeout struct {
	Duration time.Duration
}

func (e *ErrCommandTimeout) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Duration)
}

// ProviderError is a model-provider failure mapped to an HTTP-status-like
// code and a rewritten user-facing message.
type ProviderError struct {
	Status  int
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%d): %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }
