package repository

import (
	"context"
	"time"

	"github.com/relaychat/relay/pkg/types"
)

// SandboxRepository manages persistent sandbox records.
type SandboxRepository interface {
	// GetSandboxRecord returns the record for (userId, template) updated within
	// the freshness window, or *types.ErrSandboxRecordNotFound.
	GetSandboxRecord(ctx context.Context, userId, template string, window time.Duration) (*types.SandboxRecord, error)

	// UpsertSandboxRecord creates or replaces the record for (userId, template).
	UpsertSandboxRecord(ctx context.Context, userId, template, sandboxId string, status types.SandboxStatus) (*types.SandboxRecord, error)

	// UpdateSandboxStatus transitions status unconditionally.
	UpdateSandboxStatus(ctx context.Context, userId, template string, status types.SandboxStatus) error

	// CompareAndSwapSandboxStatus transitions status only if the current value
	// matches expected. Returns false when the row was changed concurrently.
	CompareAndSwapSandboxStatus(ctx context.Context, userId, template string, expected, next types.SandboxStatus) (bool, error)
}

// EntitlementRepository resolves a user's subscription plan.
type EntitlementRepository interface {
	GetPlan(ctx context.Context, userId string) (*types.Plan, error)
}

// RateLimiter is a per-user, per-feature counter over a fixed window.
type RateLimiter interface {
	// Allow increments the counter and reports whether the request is within
	// the limit. When rejected, retryAfter is the time until the window resets.
	Allow(ctx context.Context, feature, userId string) (allowed bool, retryAfter time.Duration, err error)
}
