package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/types"
)

func sseServer(t *testing.T, lines []string, onRequest func(openaiRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onRequest != nil {
			var req openaiRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			onRequest(req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestChatStreamText(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	}, nil)

	provider := NewOpenAIProvider(types.ProviderConfig{BaseURL: server.URL, Model: "test"})
	ch, err := provider.ChatStream(context.Background(), ChatRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var content strings.Builder
	var finish string
	for delta := range ch {
		content.WriteString(delta.Content)
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}

	assert.Equal(t, "Hello world", content.String())
	assert.Equal(t, types.FinishReasonStop, finish)
}

func TestChatStreamToolCallDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"terminal","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"command\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ls\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)

	provider := NewOpenAIProvider(types.ProviderConfig{BaseURL: server.URL, Model: "test"})
	ch, err := provider.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var id, name string
	var args strings.Builder
	var finish string
	for delta := range ch {
		for _, tc := range delta.ToolCalls {
			if tc.Id != "" {
				id = tc.Id
			}
			if tc.Name != "" {
				name = tc.Name
			}
			args.WriteString(tc.Arguments)
		}
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}

	assert.Equal(t, "call_1", id)
	assert.Equal(t, "terminal", name)
	assert.Equal(t, `{"command":"ls"}`, args.String())
	assert.Equal(t, types.FinishReasonToolCalls, finish)
}

func TestChatStreamSendsToolSchema(t *testing.T) {
	var seen openaiRequest
	server := sseServer(t, []string{`[DONE]`}, func(req openaiRequest) { seen = req })

	provider := NewOpenAIProvider(types.ProviderConfig{BaseURL: server.URL, Model: "test"})
	ch, err := provider.ChatStream(context.Background(), ChatRequest{
		Tools: []Tool{{
			Name:        "terminal",
			Description: "Run a shell command",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
	for range ch {
	}

	require.Len(t, seen.Tools, 1)
	assert.Equal(t, "function", seen.Tools[0].Type)
	assert.Equal(t, "terminal", seen.Tools[0].Function.Name)
	assert.True(t, seen.Stream)
}

func TestChatStreamMapsProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"invalid_api_key","message":"Incorrect API key provided"}}`)
	}))
	t.Cleanup(server.Close)

	provider := NewOpenAIProvider(types.ProviderConfig{BaseURL: server.URL, Model: "test"})
	_, err := provider.ChatStream(context.Background(), ChatRequest{})

	var provErr *types.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.Status)
	assert.Contains(t, provErr.Message, "Authentication")
}

func TestMapProviderErrorTable(t *testing.T) {
	cases := []struct {
		body   string
		status int
	}{
		{`{"error":{"code":"insufficient_quota"}}`, http.StatusPaymentRequired},
		{`Rate limit reached for gpt-4o`, http.StatusTooManyRequests},
		{`The server had an error while processing your request`, http.StatusServiceUnavailable},
		{`Country, region, or territory not supported`, http.StatusForbidden},
		{`something nobody has seen before`, http.StatusBadGateway},
	}

	for _, tc := range cases {
		err := MapProviderError(0, tc.body)
		assert.Equal(t, tc.status, err.Status, tc.body)
	}
}
