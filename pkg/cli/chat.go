package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/pkg/stream"
	"github.com/relaychat/relay/pkg/types"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&pluginName, "plugin", string(types.PluginTerminal), "Plugin driving the session (terminal, shell)")
}

func runChat(cmd *cobra.Command, args []string) error {
	if authToken == "" {
		return fmt.Errorf("an auth token is required (--token or RELAY_TOKEN)")
	}

	// No client timeout: turns stream for as long as the model talks.
	client := &http.Client{}
	sessionId := uuid.NewString()
	var history []types.Message

	PrintInfo(fmt.Sprintf("connected to %s (type 'exit' to quit)", gatewayHTTPAddr))
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(PromptStyle.Render("you") + " · ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		history = append(history, types.Message{Role: types.RoleUser, Content: line})
		draft, err := runTurn(cmd.Context(), client, sessionId, history)
		if err != nil {
			PrintError(err)
			history = history[:len(history)-1]
			continue
		}
		history = append(history, types.Message{Role: types.RoleAssistant, Content: draft.Content})
	}

	return scanner.Err()
}

// runTurn posts one turn to the gateway and renders the framed response as it
// arrives. Web search and browse tool calls in the stream are dispatched back
// to the gateway's first-party endpoints.
func runTurn(ctx context.Context, client *http.Client, sessionId string, history []types.Message) (*stream.Draft, error) {
	body, err := json.Marshal(types.ChatRequest{
		Messages: history,
		PluginId: types.PluginId(pluginName),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gatewayHTTPAddr+"/api/v1/chat/plugin", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("X-Session-Id", sessionId)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	dispatcher := stream.NewHTTPDispatcher(types.ChatConfig{
		SearchEndpoint: gatewayHTTPAddr + "/api/v1/chat/search",
		BrowseEndpoint: gatewayHTTPAddr + "/api/v1/chat/browse",
	}, body, authToken)

	demux := stream.NewDemux(dispatcher)
	demux.TextSink = os.Stdout

	fmt.Print(BrandStyle.Render("relay") + " · ")
	draft := stream.NewDraft()
	result, err := demux.Consume(ctx, resp.Body, draft)
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if result.Aborted {
		PrintInfo("turn aborted")
	}
	if result.Error != "" {
		PrintErrorf("%s", result.Error)
	}
	for _, url := range draft.Images {
		PrintInfo("image: " + url)
	}

	return draft, nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		if payload.Message != "" {
			return fmt.Errorf("%s", payload.Message)
		}
		if payload.Error != "" {
			return fmt.Errorf("%s", payload.Error)
		}
	}
	return fmt.Errorf("gateway returned status %d", resp.StatusCode)
}
