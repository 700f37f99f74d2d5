package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/types"
)

func newHandleForTest(t *testing.T, svc *fakeExecService) (*Handle, *fakeExecService) {
	t.Helper()
	server := httptest.NewServer(svc.handler())
	t.Cleanup(server.Close)

	client := NewClient(types.SandboxConfig{ServiceURL: server.URL})
	return &Handle{SandboxId: "sbx-test", Template: "base", client: client}, svc
}

func TestRunFramesCommandAndStdout(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{
		execFrames: []string{
			`{"type":"stdout","data":"hi\n"}`,
			`{"type":"end","exit_code":0}`,
		},
	})
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 5 * time.Second})

	var streamed strings.Builder
	out, err := executor.Run(context.Background(), handle, "echo hi", &streamed)
	require.NoError(t, err)

	assert.Equal(t, "\n```terminal\necho hi\n```\n```stdout\nhi\n```", out)
	assert.Equal(t, out, streamed.String())
	assert.NotContains(t, out, "stderr")
}

func TestRunNeverEmitsEmptyStdoutFence(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{
		execFrames: []string{`{"type":"end","exit_code":0}`},
	})
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 5 * time.Second})

	out, err := executor.Run(context.Background(), handle, "true", nil)
	require.NoError(t, err)

	assert.NotContains(t, out, "```stdout")
	assert.Contains(t, out, "```terminal\ntrue\n```")
}

func TestRunFramesStderrWhenNoStdout(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{
		execFrames: []string{
			`{"type":"stderr","data":"ls: cannot access '/nope': No such file or directory\n"}`,
			`{"type":"end","exit_code":2}`,
		},
	})
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 5 * time.Second})

	out, err := executor.Run(context.Background(), handle, "ls /nope", nil)
	require.NoError(t, err)

	assert.NotContains(t, out, "```stdout")
	assert.Contains(t, out, "```stderr\nls: cannot access '/nope': No such file or directory\n```")
}

func TestRunPrefersStdoutOverStderr(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{
		execFrames: []string{
			`{"type":"stdout","data":"partial output\n"}`,
			`{"type":"stderr","data":"warning: something\n"}`,
			`{"type":"end","exit_code":0}`,
		},
	})
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 5 * time.Second})

	out, err := executor.Run(context.Background(), handle, "cmd", nil)
	require.NoError(t, err)

	assert.Contains(t, out, "```stdout\npartial output\n```")
	assert.NotContains(t, out, "```stderr")
}

func TestRunFramesTimeout(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{
		execDelay:  300 * time.Millisecond,
		execFrames: []string{`{"type":"end","exit_code":0}`},
	})
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 50 * time.Millisecond})

	out, err := executor.Run(context.Background(), handle, "sleep 10", nil)
	require.NoError(t, err)

	assert.Contains(t, out, "```stderr\nCommand timed out after 50ms.\n```")
}

func TestExecReturnsSandboxUnavailableOnGatewayStatus(t *testing.T) {
	handle, _ := newHandleForTest(t, &fakeExecService{execStatus: http.StatusBadGateway})

	_, err := handle.Exec(context.Background(), "echo hi", 5*time.Second, nil)
	require.Error(t, err)

	var unavailable *types.ErrSandboxUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "sbx-test", unavailable.SandboxId)
	assert.True(t, IsTransportError(err))
}

func TestRunKillsSandboxOnTransportFailure(t *testing.T) {
	svc := &fakeExecService{execStatus: http.StatusServiceUnavailable}
	handle, _ := newHandleForTest(t, svc)
	executor := NewExecutor(types.SandboxConfig{ExecTimeout: 5 * time.Second})

	out, err := executor.Run(context.Background(), handle, "echo hi", nil)
	require.NoError(t, err)

	assert.Contains(t, out, serviceUnavailableMessage)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Contains(t, svc.killed, "sbx-test")
}
