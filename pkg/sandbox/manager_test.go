package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/repository"
	"github.com/relaychat/relay/pkg/types"
)

// fakeExecService emulates the remote execution service's REST API.
type fakeExecService struct {
	mu        sync.Mutex
	created   int
	paused    []string
	killed    []string
	resumed   []string
	connected []string
	running   []types.SandboxInfo

	failResume bool
	failPause  bool
	execFrames []string // NDJSON lines returned by /exec
	execDelay  time.Duration
	execStatus int // non-zero forces an error status on /exec
}

func (f *fakeExecService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"sandboxes": f.running})
	})

	mux.HandleFunc("POST /v1/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		json.NewEncoder(w).Encode(map[string]string{"sandbox_id": fmt.Sprintf("sbx-%d", f.created)})
	})

	mux.HandleFunc("POST /v1/sandboxes/{id}/connect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connected = append(f.connected, r.PathValue("id"))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/sandboxes/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failResume {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "sandbox expired"})
			return
		}
		f.resumed = append(f.resumed, r.PathValue("id"))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/sandboxes/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPause {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.paused = append(f.paused, r.PathValue("id"))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("DELETE /v1/sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.killed = append(f.killed, r.PathValue("id"))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/sandboxes/{id}/exec", func(w http.ResponseWriter, r *http.Request) {
		if f.execStatus != 0 {
			w.WriteHeader(f.execStatus)
			return
		}
		if f.execDelay > 0 {
			select {
			case <-time.After(f.execDelay):
			case <-r.Context().Done():
				return
			}
		}
		flusher := w.(http.Flusher)
		for _, line := range f.execFrames {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	})

	return mux
}

func (f *fakeExecService) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func newManagerForTest(t *testing.T, svc *fakeExecService) (*Manager, *repository.SandboxMemoryRepository) {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	client := NewClient(types.SandboxConfig{ServiceURL: server.URL})
	repo := repository.NewSandboxMemoryRepository()
	manager := NewManager(client, repo, nil, types.SandboxConfig{
		SandboxTimeout: 30 * time.Second,
		RecordWindow:   time.Hour,
		PausePollMax:   3,
		PausePollDelay: 10 * time.Millisecond,
	})
	return manager, repo
}

func TestAcquireIsIdempotent(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	first, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.createdCount())

	record, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first.SandboxId, record.SandboxId)
	assert.Equal(t, types.SandboxStatusActive, record.Status)

	// Second acquire within the window reconnects to the same sandbox.
	second, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.Equal(t, first.SandboxId, second.SandboxId)
	assert.Equal(t, 1, svc.createdCount())
}

func TestAcquireResumesPausedSandbox(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	_, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-old", types.SandboxStatusPaused)
	require.NoError(t, err)

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.Equal(t, "sbx-old", handle.SandboxId)
	assert.Equal(t, 0, svc.createdCount())

	record, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.SandboxStatusActive, record.Status)
}

func TestAcquireRecreatesWhenResumeFails(t *testing.T) {
	svc := &fakeExecService{failResume: true}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	_, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-gone", types.SandboxStatusPaused)
	require.NoError(t, err)

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.NotEqual(t, "sbx-gone", handle.SandboxId)
	assert.Equal(t, 1, svc.createdCount())

	record, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, handle.SandboxId, record.SandboxId)
}

func TestAcquireWaitsOutPausingRecord(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	_, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-1", types.SandboxStatusPausing)
	require.NoError(t, err)

	// Another request finishes the pause shortly after.
	go func() {
		time.Sleep(15 * time.Millisecond)
		repo.UpdateSandboxStatus(context.Background(), "user-1", "base", types.SandboxStatusPaused)
	}()

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", handle.SandboxId)
	assert.Equal(t, 0, svc.createdCount())
}

func TestAcquireAbandonsStuckPausingRecord(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	_, err := repo.UpsertSandboxRecord(ctx, "user-1", "base", "sbx-stuck", types.SandboxStatusPausing)
	require.NoError(t, err)

	// The record never settles; after the poll bound a fresh sandbox is
	// created without raising an error.
	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)
	assert.NotEqual(t, "sbx-stuck", handle.SandboxId)
	assert.Equal(t, 1, svc.createdCount())
}

func TestReleasePausesDetached(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)

	manager.Release(ctx, "user-1", "base", handle)

	// The request path returns immediately; the pause finishes detached.
	manager.Drain()

	record, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.SandboxStatusPaused, record.Status)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Contains(t, svc.paused, handle.SandboxId)
}

func TestReleaseRevertsToActiveOnPauseFailure(t *testing.T) {
	svc := &fakeExecService{failPause: true}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)

	manager.Release(ctx, "user-1", "base", handle)
	manager.Drain()

	record, err := repo.GetSandboxRecord(ctx, "user-1", "base", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.SandboxStatusActive, record.Status)
}

func TestReleaseSkipsWhenAlreadyTransitioning(t *testing.T) {
	svc := &fakeExecService{}
	manager, repo := newManagerForTest(t, svc)
	ctx := context.Background()

	handle, err := manager.Acquire(ctx, "user-1", "base")
	require.NoError(t, err)

	// A concurrent release already won the active -> pausing transition.
	repo.UpdateSandboxStatus(ctx, "user-1", "base", types.SandboxStatusPausing)

	manager.Release(ctx, "user-1", "base", handle)
	manager.Drain()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.paused)
}

func TestAcquireTemporaryReconnects(t *testing.T) {
	svc := &fakeExecService{
		running: []types.SandboxInfo{
			{
				SandboxId: "sbx-live",
				Template:  "base",
				State:     "running",
				Metadata: map[string]string{
					types.SandboxMetaUserId:   "user-1",
					types.SandboxMetaTemplate: "base",
				},
			},
		},
	}
	manager, _ := newManagerForTest(t, svc)

	handle, err := manager.AcquireTemporary(context.Background(), "user-1", "base")
	require.NoError(t, err)
	assert.Equal(t, "sbx-live", handle.SandboxId)
	assert.Equal(t, 0, svc.createdCount())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Contains(t, svc.connected, "sbx-live")
}

func TestAcquireTemporaryCreatesWhenNoMatch(t *testing.T) {
	svc := &fakeExecService{
		running: []types.SandboxInfo{
			{
				SandboxId: "sbx-other",
				Metadata: map[string]string{
					types.SandboxMetaUserId:   "user-2",
					types.SandboxMetaTemplate: "base",
				},
			},
		},
	}
	manager, _ := newManagerForTest(t, svc)

	handle, err := manager.AcquireTemporary(context.Background(), "user-1", "base")
	require.NoError(t, err)
	assert.NotEqual(t, "sbx-other", handle.SandboxId)
	assert.Equal(t, 1, svc.createdCount())
}

func TestExecStreamsStdout(t *testing.T) {
	svc := &fakeExecService{
		execFrames: []string{
			`{"type":"stdout","data":"hello "}`,
			`{"type":"stdout","data":"world\n"}`,
			`{"type":"end","exit_code":0}`,
		},
	}
	manager, _ := newManagerForTest(t, svc)
	handle, err := manager.AcquireTemporary(context.Background(), "user-1", "base")
	require.NoError(t, err)

	var chunks []string
	result, err := handle.Exec(context.Background(), "echo hello world", 5*time.Second, func(b []byte) {
		chunks = append(chunks, string(b))
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello world\n", strings.Join(chunks, ""))
}
