package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaychat/relay/pkg/types"
)

// Plan methods on PostgresBackend

// GetPlan retrieves a user's subscription plan. Users without a row are on
// the free plan.
func (b *PostgresBackend) GetPlan(ctx context.Context, userId string) (*types.Plan, error) {
	query := `
		SELECT user_id, name, premium, COALESCE(expires_at, 'epoch'::timestamptz)
		FROM plan
		WHERE user_id = $1
	`

	plan := &types.Plan{}
	err := b.db.QueryRowContext(ctx, query, userId).Scan(
		&plan.UserId,
		&plan.Name,
		&plan.Premium,
		&plan.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return &types.Plan{UserId: userId, Name: "free"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return plan, nil
}
