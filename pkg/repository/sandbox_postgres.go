package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaychat/relay/pkg/types"
)

// Sandbox record methods on PostgresBackend

// GetSandboxRecord retrieves the record for (userId, template) updated within
// the freshness window. Stale rows are treated as absent.
func (b *PostgresBackend) GetSandboxRecord(ctx context.Context, userId, template string, window time.Duration) (*types.SandboxRecord, error) {
	query := `
		SELECT id, external_id, user_id, template, sandbox_id, status, created_at, updated_at
		FROM sandbox
		WHERE user_id = $1 AND template = $2 AND updated_at > $3
	`

	record := &types.SandboxRecord{}
	err := b.db.QueryRowContext(ctx, query, userId, template, time.Now().Add(-window)).Scan(
		&record.Id,
		&record.ExternalId,
		&record.UserId,
		&record.Template,
		&record.SandboxId,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &types.ErrSandboxRecordNotFound{UserId: userId, Template: template}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sandbox record: %w", err)
	}

	return record, nil
}

// UpsertSandboxRecord creates or replaces the record for (userId, template).
func (b *PostgresBackend) UpsertSandboxRecord(ctx context.Context, userId, template, sandboxId string, status types.SandboxStatus) (*types.SandboxRecord, error) {
	query := `
		INSERT INTO sandbox (user_id, template, sandbox_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, template) DO UPDATE
		SET sandbox_id = EXCLUDED.sandbox_id, status = EXCLUDED.status, updated_at = CURRENT_TIMESTAMP
		RETURNING id, external_id, user_id, template, sandbox_id, status, created_at, updated_at
	`

	record := &types.SandboxRecord{}
	err := b.db.QueryRowContext(ctx, query, userId, template, sandboxId, status).Scan(
		&record.Id,
		&record.ExternalId,
		&record.UserId,
		&record.Template,
		&record.SandboxId,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert sandbox record: %w", err)
	}

	return record, nil
}

// UpdateSandboxStatus transitions status unconditionally.
func (b *PostgresBackend) UpdateSandboxStatus(ctx context.Context, userId, template string, status types.SandboxStatus) error {
	query := `
		UPDATE sandbox
		SET status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND template = $2
	`

	result, err := b.db.ExecContext(ctx, query, userId, template, status)
	if err != nil {
		return fmt.Errorf("failed to update sandbox status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return &types.ErrSandboxRecordNotFound{UserId: userId, Template: template}
	}

	return nil
}

// CompareAndSwapSandboxStatus transitions status only when the current value
// matches expected, so concurrent requests from the same user cannot both win
// the same transition.
func (b *PostgresBackend) CompareAndSwapSandboxStatus(ctx context.Context, userId, template string, expected, next types.SandboxStatus) (bool, error) {
	query := `
		UPDATE sandbox
		SET status = $4, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND template = $2 AND status = $3
	`

	result, err := b.db.ExecContext(ctx, query, userId, template, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to swap sandbox status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows == 1, nil
}
