package apiv1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/auth"
	"github.com/relaychat/relay/pkg/model"
	"github.com/relaychat/relay/pkg/types"
)

const testSecret = "chat-test-secret"

type stubRunner struct {
	profile  types.ProfileContext
	pluginId types.PluginId
	err      error
	frames   string
}

func (r *stubRunner) Run(ctx context.Context, profile types.ProfileContext, messages []types.Message, pluginId types.PluginId, w io.Writer) error {
	r.profile = profile
	r.pluginId = pluginId
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(w, r.frames)
	return err
}

type stubProvider struct {
	deltas []model.StreamDelta
	last   model.ChatRequest
}

func (p *stubProvider) ChatStream(ctx context.Context, req model.ChatRequest) (<-chan model.StreamDelta, error) {
	p.last = req
	ch := make(chan model.StreamDelta, len(p.deltas))
	for _, d := range p.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func newChatServer(t *testing.T, runner PluginRunner, provider model.Provider) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(auth.HTTPMiddleware(auth.NewJWTValidator("", testSecret)))
	NewChatGroup(e.Group("/api/v1/chat"), runner, provider)
	return e
}

func userToken(t *testing.T, userId string, premium bool) string {
	t.Helper()
	token, err := auth.SignUserToken(testSecret, userId, premium, time.Hour)
	require.NoError(t, err)
	return token
}

func postChat(e *echo.Echo, path, token string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func chatBody() types.ChatRequest {
	return types.ChatRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
}

func TestPluginChatStreamsFrames(t *testing.T) {
	runner := &stubRunner{frames: "0:\"hello\"\n"}
	e := newChatServer(t, runner, &stubProvider{})

	rec := postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", true), chatBody())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0:\"hello\"\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")
}

func TestPluginChatIdentityComesFromToken(t *testing.T) {
	runner := &stubRunner{}
	e := newChatServer(t, runner, &stubProvider{})

	body := chatBody()
	body.Profile = types.ProfileContext{UserId: "spoofed", Premium: true}
	postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", false), body)

	assert.Equal(t, "user-9", runner.profile.UserId)
	assert.False(t, runner.profile.Premium)
	assert.Equal(t, types.PluginTerminal, runner.pluginId, "plugin defaults to terminal")
}

func TestPluginChatRequiresAuth(t *testing.T) {
	e := newChatServer(t, &stubRunner{}, &stubProvider{})
	rec := postChat(e, "/api/v1/chat/plugin", "", chatBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPluginChatRateLimitedIsJSON(t *testing.T) {
	runner := &stubRunner{err: &types.ErrRateLimited{Feature: "terminal", RetryAfter: 90 * time.Second}}
	e := newChatServer(t, runner, &stubProvider{})

	rec := postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", true), chatBody())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var payload struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 90, payload.RetryAfter)
	assert.Contains(t, payload.Message, "usage limit")
}

func TestPluginChatEntitlementDenied(t *testing.T) {
	runner := &stubRunner{err: &types.ErrEntitlementDenied{UserId: "user-9", Feature: "terminal"}}
	e := newChatServer(t, runner, &stubProvider{})

	rec := postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", false), chatBody())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPluginChatProviderErrorStatusPassesThrough(t *testing.T) {
	runner := &stubRunner{err: &types.ProviderError{Status: 429, Message: "Too many requests."}}
	e := newChatServer(t, runner, &stubProvider{})

	rec := postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", true), chatBody())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPluginChatRejectsEmptyMessages(t *testing.T) {
	e := newChatServer(t, &stubRunner{}, &stubProvider{})
	rec := postChat(e, "/api/v1/chat/plugin", userToken(t, "user-9", true), types.ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchChatProxiesProvider(t *testing.T) {
	provider := &stubProvider{deltas: []model.StreamDelta{
		{Content: "findings"},
		{FinishReason: types.FinishReasonStop, Done: true},
	}}
	e := newChatServer(t, &stubRunner{}, provider)

	rec := postChat(e, "/api/v1/chat/search", userToken(t, "user-9", true), chatBody())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `0:"findings"`)
	assert.Contains(t, rec.Body.String(), `d:{"finishReason":"stop"}`)
	require.NotEmpty(t, provider.last.Messages)
	assert.Equal(t, types.RoleSystem, provider.last.Messages[0].Role)
	assert.Empty(t, provider.last.Tools, "proxy passes expose no tools")
}

func TestBrowseChatRequiresURL(t *testing.T) {
	e := newChatServer(t, &stubRunner{}, &stubProvider{})
	rec := postChat(e, "/api/v1/chat/browse", userToken(t, "user-9", true), chatBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrowseChatInjectsTargetURL(t *testing.T) {
	provider := &stubProvider{deltas: []model.StreamDelta{
		{Content: "summary"},
		{FinishReason: types.FinishReasonStop, Done: true},
	}}
	e := newChatServer(t, &stubRunner{}, provider)

	body := chatBody()
	body.Url = "https://example.com/page"
	rec := postChat(e, "/api/v1/chat/browse", userToken(t, "user-9", true), body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, provider.last.Messages[0].Content, "https://example.com/page")
}

func TestHealthCheckWithoutBackends(t *testing.T) {
	e := echo.New()
	NewHealthGroup(e.Group("/api/v1/health"), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
