package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/types"
)

func TestSandboxRecordUpsertAndLookup(t *testing.T) {
	repo := NewSandboxMemoryRepository()
	ctx := context.Background()

	_, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	var notFound *types.ErrSandboxRecordNotFound
	assert.True(t, notFound.From(err))

	created, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-1", types.SandboxStatusActive)
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", created.SandboxId)

	got, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, created.ExternalId, got.ExternalId)

	// Upsert replaces the sandbox id, keeping one row per (user, template)
	updated, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-2", types.SandboxStatusActive)
	require.NoError(t, err)
	assert.Equal(t, created.Id, updated.Id)
	assert.Equal(t, "sbx-2", updated.SandboxId)
}

func TestSandboxStatusCompareAndSwap(t *testing.T) {
	repo := NewSandboxMemoryRepository()
	ctx := context.Background()

	_, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-1", types.SandboxStatusActive)
	require.NoError(t, err)

	swapped, err := repo.CompareAndSwapSandboxStatus(ctx, "user-1", "base", types.SandboxStatusActive, types.SandboxStatusPausing)
	require.NoError(t, err)
	assert.True(t, swapped)

	// Second caller loses the race
	swapped, err = repo.CompareAndSwapSandboxStatus(ctx, "user-1", "base", types.SandboxStatusActive, types.SandboxStatusPausing)
	require.NoError(t, err)
	assert.False(t, swapped)
}
