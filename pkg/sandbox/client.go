package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/types"
)

const (
	defaultRequestTimeout = 30 * time.Second
)

// Client talks to the remote execution service. Sandboxes are created,
// resumed, paused and killed through it; command execution streams output
// back as newline-delimited JSON.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Handle references one live sandbox on the remote service.
type Handle struct {
	SandboxId string
	Template  string
	client    *Client
}

func NewClient(cfg types.SandboxConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			// No global timeout: exec streams are long-lived and bounded by
			// their request context instead.
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &serviceError{Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

type serviceError struct {
	Status  int
	Message string
}

func (e *serviceError) Error() string {
	return fmt.Sprintf("sandbox service error (%d): %s", e.Status, e.Message)
}

// List returns the sandboxes currently running on the remote service.
func (c *Client) List(ctx context.Context) ([]types.SandboxInfo, error) {
	var out struct {
		Sandboxes []types.SandboxInfo `json:"sandboxes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sandboxes", nil, &out); err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	return out.Sandboxes, nil
}

// Create provisions a new sandbox from template, tagged with metadata.
func (c *Client) Create(ctx context.Context, template string, metadata map[string]string, timeout time.Duration) (*Handle, error) {
	body := map[string]any{
		"template":   template,
		"metadata":   metadata,
		"timeout_ms": timeout.Milliseconds(),
	}
	var out struct {
		SandboxId string `json:"sandbox_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", body, &out); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	log.Info().Str("sandbox_id", out.SandboxId).Str("template", template).Msg("sandbox created")
	return &Handle{SandboxId: out.SandboxId, Template: template, client: c}, nil
}

// Connect reattaches to a running sandbox and refreshes its idle timeout.
func (c *Client) Connect(ctx context.Context, sandboxId string, timeout time.Duration) (*Handle, error) {
	body := map[string]any{"timeout_ms": timeout.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxId+"/connect", body, nil); err != nil {
		return nil, fmt.Errorf("connect sandbox %s: %w", sandboxId, err)
	}
	return &Handle{SandboxId: sandboxId, client: c}, nil
}

// Resume restarts a paused sandbox. Fails when the sandbox has expired or was
// destroyed remotely.
func (c *Client) Resume(ctx context.Context, sandboxId string, timeout time.Duration) (*Handle, error) {
	body := map[string]any{"timeout_ms": timeout.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxId+"/resume", body, nil); err != nil {
		return nil, fmt.Errorf("resume sandbox %s: %w", sandboxId, err)
	}
	return &Handle{SandboxId: sandboxId, client: c}, nil
}

// Pause suspends a sandbox, preserving its filesystem for a later resume.
func (c *Client) Pause(ctx context.Context, sandboxId string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+sandboxId+"/pause", nil, nil); err != nil {
		return fmt.Errorf("pause sandbox %s: %w", sandboxId, err)
	}
	return nil
}

// Kill destroys a sandbox immediately.
func (c *Client) Kill(ctx context.Context, sandboxId string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/sandboxes/"+sandboxId, nil, nil); err != nil {
		return fmt.Errorf("kill sandbox %s: %w", sandboxId, err)
	}
	return nil
}

// ExecResult is the terminal state of one command execution.
type ExecResult struct {
	ExitCode int
	Stderr   string
	Error    string
}

type execFrame struct {
	Type     string `json:"type"` // stdout, stderr, end
	Data     string `json:"data,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Exec runs command inside the sandbox, invoking onStdout for each stdout
// chunk as it arrives. Stderr is buffered into the result. The stream is
// bounded by maxExecTime; exceeding it returns *types.ErrCommandTimeout.
func (h *Handle) Exec(ctx context.Context, command string, maxExecTime time.Duration, onStdout func([]byte)) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, maxExecTime)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"command":    command,
		"timeout_ms": maxExecTime.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode exec request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.client.baseURL+"/v1/sandboxes/"+h.SandboxId+"/exec", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build exec request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.client.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.client.apiKey)
	}

	resp, err := h.client.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &types.ErrCommandTimeout{Duration: maxExecTime}
		}
		if IsTransportError(err) {
			return nil, &types.ErrSandboxUnavailable{SandboxId: h.SandboxId, Cause: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		svcErr := &serviceError{Status: resp.StatusCode, Message: apiErr.Message}
		if IsTransportError(svcErr) {
			return nil, &types.ErrSandboxUnavailable{SandboxId: h.SandboxId, Cause: svcErr}
		}
		return nil, svcErr
	}

	result := &ExecResult{}
	var stderr strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame execFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Warn().Str("sandbox_id", h.SandboxId).Err(err).Msg("exec: skipping malformed frame")
			continue
		}

		switch frame.Type {
		case "stdout":
			if onStdout != nil && frame.Data != "" {
				onStdout([]byte(frame.Data))
			}
		case "stderr":
			stderr.WriteString(frame.Data)
		case "end":
			result.ExitCode = frame.ExitCode
			result.Error = frame.Error
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &types.ErrCommandTimeout{Duration: maxExecTime}
		}
		return nil, fmt.Errorf("exec stream: %w", err)
	}

	result.Stderr = stderr.String()
	return result, nil
}

// Kill destroys the sandbox behind this handle.
func (h *Handle) Kill(ctx context.Context) error {
	return h.client.Kill(ctx, h.SandboxId)
}

// IsTransportError reports whether err is a transport-level failure talking
// to the execution service: connection timeouts or gateway-class statuses.
// These mean the sandbox itself is unreachable, not that the command failed.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}

	var unavailable *types.ErrSandboxUnavailable
	if errors.As(err, &unavailable) {
		return true
	}

	var svcErr *serviceError
	if errors.As(err, &svcErr) {
		switch svcErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
