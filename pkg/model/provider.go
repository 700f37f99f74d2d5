package model

import (
	"context"
	"encoding/json"

	"github.com/relaychat/relay/pkg/types"
)

// Tool is a function schema exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Messages    []types.Message
	Tools       []Tool
	MaxTokens   int
	Temperature float64
}

// ToolCallDelta is one incremental piece of a streamed tool call. The first
// delta for an index carries the id and name; later deltas append argument
// text.
type ToolCallDelta struct {
	Index     int
	Id        string
	Name      string
	Arguments string
}

// StreamDelta is one chunk of a streamed completion.
type StreamDelta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Done         bool
	Err          error
}

// Provider streams chat completions.
type Provider interface {
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
