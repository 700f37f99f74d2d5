package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/common"
	"github.com/relaychat/relay/pkg/model"
	"github.com/relaychat/relay/pkg/repository"
	"github.com/relaychat/relay/pkg/sandbox"
	"github.com/relaychat/relay/pkg/types"
)

const defaultMaxLoops = 3

// terminalTool is the single tool exposed to the model.
var terminalTool = model.Tool{
	Name:        "terminal",
	Description: "Run a shell command in the user's Linux sandbox and return its output.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute."}
		},
		"required": ["command"]
	}`),
}

// Orchestrator drives the bounded model/tool loop for one assistant turn and
// streams the result as protocol frames.
type Orchestrator struct {
	provider     model.Provider
	sandboxes    *sandbox.Manager
	executor     *sandbox.Executor
	entitlements repository.EntitlementRepository
	limiter      repository.RateLimiter
	config       types.ChatConfig
	template     string
}

func NewOrchestrator(
	provider model.Provider,
	sandboxes *sandbox.Manager,
	executor *sandbox.Executor,
	entitlements repository.EntitlementRepository,
	limiter repository.RateLimiter,
	chatConfig types.ChatConfig,
	template string,
) *Orchestrator {
	return &Orchestrator{
		provider:     provider,
		sandboxes:    sandboxes,
		executor:     executor,
		entitlements: entitlements,
		limiter:      limiter,
		config:       chatConfig,
		template:     template,
	}
}

// Run executes one orchestrated turn. Preflight failures (entitlement, rate
// limit) are returned before anything is written so the caller can respond
// with a JSON error. Once streaming has started, failures are delivered as
// error frames and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context, profile types.ProfileContext, messages []types.Message, pluginId types.PluginId, w io.Writer) error {
	feature := string(pluginId)

	if err := o.preflight(ctx, profile, feature); err != nil {
		return err
	}

	turnId := common.GenerateTurnID()
	log.Debug().Str("turn_id", turnId).Str("user_id", profile.UserId).Str("plugin_id", string(pluginId)).Msg("orchestrator: turn started")

	fw := newFrameWriter(w)
	conversation := prepareConversation(messages)

	var handle *sandbox.Handle
	defer func() {
		if handle != nil && pluginId != types.PluginShell {
			// Request ctx may already be cancelled; the release path must
			// still run.
			o.sandboxes.Release(context.WithoutCancel(ctx), profile.UserId, o.template, handle)
		}
	}()

	maxLoops := o.config.MaxLoops
	if maxLoops <= 0 {
		maxLoops = defaultMaxLoops
	}

	for iteration := 0; iteration < maxLoops; iteration++ {
		req := model.ChatRequest{
			Messages: append([]types.Message{systemPrompt(pluginId, profile, iteration > 0)}, conversation...),
			Tools:    []model.Tool{terminalTool},
		}

		deltas, err := o.provider.ChatStream(ctx, req)
		if err != nil {
			return o.failStream(fw, err)
		}

		assistant, finishReason, err := o.drainStream(fw, deltas)
		if err != nil {
			return o.failStream(fw, err)
		}
		if assistant.Content != "" || len(assistant.ToolCalls) > 0 {
			conversation = append(conversation, assistant)
		}

		if finishReason != types.FinishReasonToolCalls || len(assistant.ToolCalls) == 0 {
			return nil
		}

		// Only the first terminal call of an iteration runs; anything else
		// still gets a tool response so the conversation stays well-formed.
		ranTerminal := false
		for _, call := range assistant.ToolCalls {
			result := "Tool not available."
			if call.Name == terminalTool.Name && !ranTerminal {
				ranTerminal = true
				result = o.runTerminal(ctx, fw, profile, pluginId, &handle, call)
			}
			conversation = append(conversation, types.Message{
				Role:       types.RoleTool,
				ToolCallId: call.Id,
				Content:    result,
			})
		}
	}

	// Iteration cap reached: whatever streamed stands as the answer.
	log.Debug().Str("turn_id", turnId).Int("max_loops", maxLoops).Msg("orchestrator: iteration cap reached")
	return nil
}

func (o *Orchestrator) preflight(ctx context.Context, profile types.ProfileContext, feature string) error {
	if o.config.RequirePremium {
		plan, err := o.entitlements.GetPlan(ctx, profile.UserId)
		if err != nil {
			return err
		}
		if !plan.Premium {
			return &types.ErrEntitlementDenied{UserId: profile.UserId, Feature: feature}
		}
	}

	if o.config.RateLimit.Enabled && o.limiter != nil {
		allowed, retryAfter, err := o.limiter.Allow(ctx, feature, profile.UserId)
		if err != nil {
			// Fail open: a counter outage should not take the feature down.
			log.Warn().Err(err).Str("user_id", profile.UserId).Msg("orchestrator: rate limit check failed")
		} else if !allowed {
			return &types.ErrRateLimited{Feature: feature, RetryAfter: retryAfter}
		}
	}

	return nil
}

// drainStream consumes one model response, forwarding text chunks to the
// client and accumulating indexed tool-call deltas into complete calls.
func (o *Orchestrator) drainStream(fw *frameWriter, deltas <-chan model.StreamDelta) (types.Message, string, error) {
	var text strings.Builder
	calls := map[int]*types.ToolCall{}
	var order []int
	var finishReason string

	for delta := range deltas {
		if delta.Err != nil {
			return types.Message{}, "", delta.Err
		}
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := fw.WriteText(delta.Content); err != nil {
				return types.Message{}, "", err
			}
		}
		for _, tc := range delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &types.ToolCall{}
				calls[tc.Index] = call
				order = append(order, tc.Index)
			}
			if tc.Id != "" {
				call.Id = tc.Id
			}
			if tc.Name != "" {
				call.Name = tc.Name
			}
			call.Arguments += tc.Arguments
		}
		if delta.FinishReason != "" {
			finishReason = delta.FinishReason
		}
	}

	assistant := types.Message{Role: types.RoleAssistant, Content: text.String()}
	for _, idx := range order {
		assistant.ToolCalls = append(assistant.ToolCalls, *calls[idx])
	}
	return assistant, finishReason, nil
}

// runTerminal executes one terminal tool call, streaming its fenced output to
// the client and returning the same text as the tool result for the model.
func (o *Orchestrator) runTerminal(ctx context.Context, fw *frameWriter, profile types.ProfileContext, pluginId types.PluginId, handle **sandbox.Handle, call types.ToolCall) string {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Command) == "" {
		log.Warn().Str("arguments", call.Arguments).Msg("orchestrator: unusable terminal arguments")
		return "The terminal tool was called without a valid command."
	}

	if *handle == nil {
		acquired, err := o.acquireSandbox(ctx, profile.UserId, pluginId)
		if err != nil {
			log.Error().Err(err).Str("user_id", profile.UserId).Msg("orchestrator: sandbox acquire failed")
			msg := "The terminal is currently unavailable. Please try again later."
			if writeErr := fw.WriteText("\n" + msg); writeErr != nil {
				log.Warn().Err(writeErr).Msg("orchestrator: dropped terminal failure message")
			}
			return msg
		}
		*handle = acquired
	}

	// Execution failures are folded into the framed output by the executor;
	// an error here means the client writer broke.
	output, err := o.executor.Run(ctx, *handle, args.Command, fw)
	if err != nil {
		log.Warn().Err(err).Str("user_id", profile.UserId).Msg("orchestrator: terminal stream write failed")
	}
	return output
}

func (o *Orchestrator) acquireSandbox(ctx context.Context, userId string, pluginId types.PluginId) (*sandbox.Handle, error) {
	if pluginId == types.PluginShell {
		return o.sandboxes.AcquireTemporary(ctx, userId, o.template)
	}
	return o.sandboxes.Acquire(ctx, userId, o.template)
}

// failStream delivers an error to the client. Before any frame has been
// written the error is returned for the HTTP layer to render as JSON; after
// that the stream is the only channel left, so an error frame is written and
// the turn ends without retracting streamed output.
func (o *Orchestrator) failStream(fw *frameWriter, err error) error {
	if !fw.Streamed() {
		return err
	}

	msg := "The assistant is currently unavailable. Please try again later."
	var providerErr *types.ProviderError
	if errors.As(err, &providerErr) {
		msg = providerErr.Message
	}
	log.Error().Err(err).Msg("orchestrator: stream aborted")
	if writeErr := fw.WriteError(msg); writeErr != nil {
		log.Warn().Err(writeErr).Msg("orchestrator: dropped error frame")
	}
	return nil
}
