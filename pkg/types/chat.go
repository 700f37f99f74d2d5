package types

import "time"

// Message roles as sent to the model provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallId string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a named function.
type ToolCall struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Finish reasons reported by the model provider.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool-calls"
	FinishReasonLength    = "length"
)

// PluginId identifies which plugin-backed behavior drives a turn.
type PluginId string

const (
	PluginTerminal PluginId = "terminal"
	PluginShell    PluginId = "shell"
)

// ProfileContext is the caller-derived profile injected ahead of a
// conversation (display name, locale, custom instructions).
type ProfileContext struct {
	UserId       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Premium      bool   `json:"premium"`
}

// ChatRequest is the inbound body for the plugin orchestration endpoint.
type ChatRequest struct {
	Profile  ProfileContext `json:"profile"`
	Messages []Message      `json:"messages"`
	PluginId PluginId       `json:"plugin_id"`
	Url      string         `json:"url,omitempty"` // browse target, set by nested dispatch
}

// Plan is a user's subscription plan row, used for the entitlement check.
type Plan struct {
	UserId    string    `json:"user_id"`
	Name      string    `json:"name"`
	Premium   bool      `json:"premium"`
	ExpiresAt time.Time `json:"expires_at"`
}
