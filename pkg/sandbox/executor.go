package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/types"
)

const serviceUnavailableMessage = "The terminal service is currently unavailable. Please try again later."

// Executor runs single shell commands inside a sandbox and frames the result
// as fenced text blocks: the echoed command, streamed stdout, and stderr or
// error text when nothing was printed. Consumers elsewhere parse these same
// fences for rendering.
//
// The executor never retries; retry, if any, is the orchestration loop's
// decision.
type Executor struct {
	maxExecTime time.Duration
}

func NewExecutor(cfg types.SandboxConfig) *Executor {
	maxExecTime := cfg.ExecTimeout
	if maxExecTime <= 0 {
		maxExecTime = 60 * time.Second
	}
	return &Executor{maxExecTime: maxExecTime}
}

// Run executes command in the sandbox behind handle, writing framed output to
// w as it arrives. The full framed text is returned so the caller can feed it
// back to the model as the tool result. Failures are folded into the framed
// text; the returned error is reserved for writer failures.
func (e *Executor) Run(ctx context.Context, handle *Handle, command string, w io.Writer) (string, error) {
	out := &frameCapture{w: w}

	// Echo the command first so the consumer can render it before any output.
	if err := out.write("\n```terminal\n" + command + "\n```"); err != nil {
		return out.String(), err
	}

	stdoutOpen := false
	var writeErr error
	result, execErr := handle.Exec(ctx, command, e.maxExecTime, func(chunk []byte) {
		if writeErr != nil {
			return
		}
		if !stdoutOpen {
			// Open lazily: a command with no stdout gets no stdout fence.
			if writeErr = out.write("\n```stdout\n"); writeErr != nil {
				return
			}
			stdoutOpen = true
		}
		writeErr = out.write(string(chunk))
	})
	if writeErr != nil {
		return out.String(), writeErr
	}

	if stdoutOpen {
		closing := "\n```"
		if out.endsWithNewline() {
			closing = "```"
		}
		if err := out.write(closing); err != nil {
			return out.String(), err
		}
	}

	if execErr != nil {
		err := e.writeFailure(ctx, out, handle, execErr)
		return out.String(), err
	}

	// With no stdout, surface stderr and any terminal error so the turn still
	// carries a useful result.
	if !stdoutOpen {
		var parts []string
		if strings.TrimSpace(result.Stderr) != "" {
			parts = append(parts, strings.TrimRight(result.Stderr, "\n"))
		}
		if result.Error != "" {
			parts = append(parts, result.Error)
		}
		if len(parts) > 0 {
			if err := out.write("\n```stderr\n" + strings.Join(parts, "\n") + "\n```"); err != nil {
				return out.String(), err
			}
		}
	}

	return out.String(), nil
}

func (e *Executor) writeFailure(ctx context.Context, out *frameCapture, handle *Handle, execErr error) error {
	var timeoutErr *types.ErrCommandTimeout
	if errors.As(execErr, &timeoutErr) {
		return out.write(fmt.Sprintf("\n```stderr\nCommand timed out after %s.\n```", timeoutErr.Duration))
	}

	if IsTransportError(execErr) {
		// The sandbox itself is unreachable. Kill it so the next acquire
		// starts clean instead of reattaching to a wedged environment.
		log.Error().Str("sandbox_id", handle.SandboxId).Err(execErr).Msg("sandbox unreachable, killing")
		if killErr := handle.Kill(ctx); killErr != nil {
			log.Warn().Str("sandbox_id", handle.SandboxId).Err(killErr).Msg("sandbox kill failed")
		}
		return out.write("\n```stderr\n" + serviceUnavailableMessage + "\n```")
	}

	return out.write("\n```stderr\n" + execErr.Error() + "\n```")
}

// frameCapture tees frames to the consumer while keeping the accumulated
// text for the tool result.
type frameCapture struct {
	w   io.Writer
	buf strings.Builder
}

func (c *frameCapture) write(s string) error {
	c.buf.WriteString(s)
	if c.w == nil {
		return nil
	}
	_, err := io.WriteString(c.w, s)
	return err
}

func (c *frameCapture) String() string { return c.buf.String() }

func (c *frameCapture) endsWithNewline() bool {
	s := c.buf.String()
	return len(s) > 0 && s[len(s)-1] == '\n'
}
