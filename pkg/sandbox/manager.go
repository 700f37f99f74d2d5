package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/repository"
	"github.com/relaychat/relay/pkg/types"
)

const pauseTaskTimeout = 60 * time.Second

// Manager owns sandbox lifecycle for users: acquire (create, resume or
// reconnect) and release (pause). Persistent sandboxes are tracked by a
// database record per (userId, template); temporary sandboxes rely entirely
// on the remote service's live listing.
type Manager struct {
	client    *Client
	repo      repository.SandboxRepository
	pauseLock *common.RedisLock // nil when running without Redis
	config    types.SandboxConfig

	// Detached pause tasks are tracked so shutdown can drain them.
	tasks sync.WaitGroup
}

func NewManager(client *Client, repo repository.SandboxRepository, pauseLock *common.RedisLock, cfg types.SandboxConfig) *Manager {
	if cfg.PausePollMax <= 0 {
		cfg.PausePollMax = 10
	}
	if cfg.PausePollDelay <= 0 {
		cfg.PausePollDelay = 2 * time.Second
	}
	if cfg.RecordWindow <= 0 {
		cfg.RecordWindow = 30 * 24 * time.Hour
	}
	return &Manager{
		client:    client,
		repo:      repo,
		pauseLock: pauseLock,
		config:    cfg,
	}
}

// AcquireTemporary finds or creates a sandbox for (userId, template) using
// only the remote service's listing. No persistence row is involved; the
// listing is authoritative because sandboxes may be reaped out-of-band.
func (m *Manager) AcquireTemporary(ctx context.Context, userId, template string) (*Handle, error) {
	sandboxes, err := m.client.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, info := range sandboxes {
		if info.Metadata[types.SandboxMetaUserId] != userId || info.Metadata[types.SandboxMetaTemplate] != template {
			continue
		}
		handle, err := m.client.Connect(ctx, info.SandboxId, m.config.SandboxTimeout)
		if err != nil {
			log.Warn().Str("sandbox_id", info.SandboxId).Err(err).Msg("reconnect failed, creating new sandbox")
			break
		}
		handle.Template = template
		return handle, nil
	}

	return m.client.Create(ctx, template, map[string]string{
		types.SandboxMetaUserId:   userId,
		types.SandboxMetaTemplate: template,
	}, m.config.SandboxTimeout)
}

// Acquire returns a handle to the user's persistent sandbox for template,
// resuming a paused one when the record allows, otherwise creating fresh.
func (m *Manager) Acquire(ctx context.Context, userId, template string) (*Handle, error) {
	record, err := m.repo.GetSandboxRecord(ctx, userId, template, m.config.RecordWindow)
	if err != nil {
		var notFound *types.ErrSandboxRecordNotFound
		if !notFound.From(err) {
			// Lookup failures are best-effort: fall through to creation.
			log.Warn().Str("user_id", userId).Err(err).Msg("sandbox record lookup failed")
		}
		return m.createPersistent(ctx, userId, template)
	}

	if record.Status == types.SandboxStatusPausing {
		record = m.waitForPause(ctx, userId, template)
		if record == nil {
			// Pause never completed within the poll bound. Abandon the old
			// sandbox rather than blocking the request indefinitely.
			log.Warn().Str("user_id", userId).Str("template", template).Msg("pausing sandbox never settled, creating fresh")
			return m.createPersistent(ctx, userId, template)
		}
	}

	if handle := m.resumeFromRecord(ctx, record); handle != nil {
		return handle, nil
	}

	return m.createPersistent(ctx, userId, template)
}

// waitForPause polls the record until it leaves the pausing state, bounded to
// pausePollMax attempts. Returns nil when the bound is exceeded.
func (m *Manager) waitForPause(ctx context.Context, userId, template string) *types.SandboxRecord {
	for attempt := 0; attempt < m.config.PausePollMax; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.config.PausePollDelay):
		}

		record, err := m.repo.GetSandboxRecord(ctx, userId, template, m.config.RecordWindow)
		if err != nil {
			return nil
		}
		if record.Status != types.SandboxStatusPausing {
			return record
		}
	}
	return nil
}

func (m *Manager) resumeFromRecord(ctx context.Context, record *types.SandboxRecord) *Handle {
	var handle *Handle
	var err error

	if record.Status == types.SandboxStatusActive {
		// Still running: reconnect rather than resume.
		handle, err = m.client.Connect(ctx, record.SandboxId, m.config.SandboxTimeout)
		if err != nil {
			handle, err = m.client.Resume(ctx, record.SandboxId, m.config.SandboxTimeout)
		}
	} else {
		handle, err = m.client.Resume(ctx, record.SandboxId, m.config.SandboxTimeout)
	}

	if err != nil {
		// Expired or destroyed remotely. The caller creates fresh.
		log.Info().
			Str("sandbox_id", record.SandboxId).
			Str("user_id", record.UserId).
			Err(err).
			Msg("resume failed, sandbox will be recreated")
		return nil
	}

	handle.Template = record.Template
	if err := m.repo.UpdateSandboxStatus(ctx, record.UserId, record.Template, types.SandboxStatusActive); err != nil {
		log.Warn().Str("sandbox_id", record.SandboxId).Err(err).Msg("failed to mark sandbox active")
	}

	log.Info().Str("sandbox_id", handle.SandboxId).Str("user_id", record.UserId).Msg("sandbox resumed")
	return handle
}

func (m *Manager) createPersistent(ctx context.Context, userId, template string) (*Handle, error) {
	handle, err := m.client.Create(ctx, template, map[string]string{
		types.SandboxMetaUserId:   userId,
		types.SandboxMetaTemplate: template,
	}, m.config.SandboxTimeout)
	if err != nil {
		return nil, err
	}

	if _, err := m.repo.UpsertSandboxRecord(ctx, userId, template, handle.SandboxId, types.SandboxStatusActive); err != nil {
		// Persistence is best-effort: the sandbox works either way, the next
		// acquire just cannot resume it.
		log.Warn().Str("sandbox_id", handle.SandboxId).Err(err).Msg("failed to persist sandbox record")
	}

	return handle, nil
}

// Release marks the record pausing synchronously, then pauses the sandbox in
// a detached supervised task. The caller's request path never waits on the
// pause itself.
func (m *Manager) Release(ctx context.Context, userId, template string, handle *Handle) {
	swapped, err := m.repo.CompareAndSwapSandboxStatus(ctx, userId, template, types.SandboxStatusActive, types.SandboxStatusPausing)
	if err != nil {
		log.Warn().Str("sandbox_id", handle.SandboxId).Err(err).Msg("failed to mark sandbox pausing")
		return
	}
	if !swapped {
		// A concurrent request already owns the transition.
		log.Debug().Str("sandbox_id", handle.SandboxId).Msg("sandbox already transitioning, skipping pause")
		return
	}

	m.tasks.Add(1)
	go m.pauseDetached(userId, template, handle.SandboxId)
}

func (m *Manager) pauseDetached(userId, template, sandboxId string) {
	defer m.tasks.Done()

	ctx, cancel := context.WithTimeout(context.Background(), pauseTaskTimeout)
	defer cancel()

	if m.pauseLock != nil {
		lockKey := common.Keys.SandboxPauseLock(sandboxId)
		if err := m.pauseLock.Acquire(ctx, lockKey, common.RedisLockOptions{TtlS: 60, Retries: 0}); err != nil {
			log.Debug().Str("sandbox_id", sandboxId).Err(err).Msg("pause lock held elsewhere, skipping")
			return
		}
		defer m.pauseLock.Release(lockKey)
	}

	if err := m.client.Pause(ctx, sandboxId); err != nil {
		log.Error().Str("sandbox_id", sandboxId).Err(err).Msg("sandbox pause failed")
		// Revert so a future acquire can still find and resume it.
		if _, err := m.repo.CompareAndSwapSandboxStatus(ctx, userId, template, types.SandboxStatusPausing, types.SandboxStatusActive); err != nil {
			log.Warn().Str("sandbox_id", sandboxId).Err(err).Msg("failed to revert sandbox status")
		}
		return
	}

	if _, err := m.repo.CompareAndSwapSandboxStatus(ctx, userId, template, types.SandboxStatusPausing, types.SandboxStatusPaused); err != nil {
		log.Warn().Str("sandbox_id", sandboxId).Err(err).Msg("failed to mark sandbox paused")
		return
	}

	log.Info().Str("sandbox_id", sandboxId).Str("user_id", userId).Msg("sandbox paused")
}

// Drain blocks until all detached pause tasks finish. Called on shutdown.
func (m *Manager) Drain() {
	m.tasks.Wait()
}
