package orchestrator

import (
	"fmt"
	"strings"

	"github.com/relaychat/relay/pkg/types"
)

const terminalPrompt = `You are a helpful assistant with access to a Linux terminal.
When a question is best answered by running a shell command, call the terminal tool with the exact command.
Prefer a single command over a chain when possible. Never run destructive commands.`

const shellPrompt = `You are a shell assistant. The user wants commands executed, not explained.
Call the terminal tool with the command that does what the user asked.`

// strictSuffix is appended after the first iteration: the model has tool
// output in context and should now answer rather than keep invoking tools.
const strictSuffix = `
The command output above is available in the conversation. Answer the user's question directly based on it. Only call the terminal tool again if the output is genuinely insufficient.`

func systemPrompt(pluginId types.PluginId, profile types.ProfileContext, strict bool) types.Message {
	var b strings.Builder
	switch pluginId {
	case types.PluginShell:
		b.WriteString(shellPrompt)
	default:
		b.WriteString(terminalPrompt)
	}
	if strict {
		b.WriteString(strictSuffix)
	}
	if profile.DisplayName != "" {
		b.WriteString(fmt.Sprintf("\nThe user's name is %s.", profile.DisplayName))
	}
	if profile.Instructions != "" {
		b.WriteString("\nUser instructions: " + profile.Instructions)
	}
	return types.Message{Role: types.RoleSystem, Content: b.String()}
}

// riskySubstrings are stripped from the latest user turn before it reaches
// the model. This is input normalization, not a security boundary: the
// sandbox is the boundary.
var riskySubstrings = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	":(){ :|:& };:",
	"dd if=/dev/zero of=/dev/",
	"> /dev/sda",
}

// prepareConversation normalizes the inbound history: assistant turns with no
// content and no tool calls are dropped (some clients send placeholders for
// aborted turns), and the latest user turn is sanitized.
func prepareConversation(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleAssistant && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}
		out = append(out, m)
	}

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == types.RoleUser {
			out[i].Content = sanitizeUserInput(out[i].Content)
			break
		}
	}
	return out
}

func sanitizeUserInput(s string) string {
	for _, risky := range riskySubstrings {
		s = strings.ReplaceAll(s, risky, "")
	}
	return s
}
