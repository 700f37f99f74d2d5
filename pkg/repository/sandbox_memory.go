package repository

import (
	"context"
	"sync"
	"time"

	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/types"
)

// SandboxMemoryRepository is an in-memory SandboxRepository used by tests and
// local mode (no Postgres).
type SandboxMemoryRepository struct {
	mu      sync.Mutex
	records map[string]*types.SandboxRecord // userId/template -> record
	nextId  uint
}

func NewSandboxMemoryRepository() *SandboxMemoryRepository {
	return &SandboxMemoryRepository{
		records: make(map[string]*types.SandboxRecord),
	}
}

func recordKey(userId, template string) string {
	return userId + "/" + template
}

func (r *SandboxMemoryRepository) GetSandboxRecord(ctx context.Context, userId, template string, window time.Duration) (*types.SandboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordKey(userId, template)]
	if !ok || time.Since(record.UpdatedAt) > window {
		return nil, &types.ErrSandboxRecordNotFound{UserId: userId, Template: template}
	}

	copied := *record
	return &copied, nil
}

func (r *SandboxMemoryRepository) UpsertSandboxRecord(ctx context.Context, userId, template, sandboxId string, status types.SandboxStatus) (*types.SandboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordKey(userId, template)
	now := time.Now()

	record, ok := r.records[key]
	if !ok {
		r.nextId++
		record = &types.SandboxRecord{
			Id:         r.nextId,
			ExternalId: common.GenerateRandomID(32),
			UserId:     userId,
			Template:   template,
			CreatedAt:  now,
		}
		r.records[key] = record
	}

	record.SandboxId = sandboxId
	record.Status = status
	record.UpdatedAt = now

	copied := *record
	return &copied, nil
}

func (r *SandboxMemoryRepository) UpdateSandboxStatus(ctx context.Context, userId, template string, status types.SandboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordKey(userId, template)]
	if !ok {
		return &types.ErrSandboxRecordNotFound{UserId: userId, Template: template}
	}

	record.Status = status
	record.UpdatedAt = time.Now()
	return nil
}

func (r *SandboxMemoryRepository) CompareAndSwapSandboxStatus(ctx context.Context, userId, template string, expected, next types.SandboxStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordKey(userId, template)]
	if !ok || record.Status != expected {
		return false, nil
	}

	record.Status = next
	record.UpdatedAt = time.Now()
	return true, nil
}
