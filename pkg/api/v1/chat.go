package apiv1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/auth"
	"github.com/relaychat/relay/pkg/model"
	"github.com/relaychat/relay/pkg/stream"
	"github.com/relaychat/relay/pkg/types"
)

// PluginRunner is satisfied by orchestrator.Orchestrator.
type PluginRunner interface {
	Run(ctx context.Context, profile types.ProfileContext, messages []types.Message, pluginId types.PluginId, w io.Writer) error
}

const searchProxyPrompt = `You are the web lookup component of an assistant.
Answer the user's latest question factually and concisely based on what you know. Do not mention tools or searching.`

const browseProxyPrompt = `You are the page reader component of an assistant.
The user wants to know about the page at %s. Summarize what that page most likely contains and answer their question about it. Be concise.`

type ChatGroup struct {
	routerGroup  *echo.Group
	orchestrator PluginRunner
	provider     model.Provider
}

func NewChatGroup(g *echo.Group, orch PluginRunner, provider model.Provider) *ChatGroup {
	group := &ChatGroup{routerGroup: g, orchestrator: orch, provider: provider}

	g.POST("/plugin", auth.WithAuth(group.PluginChat))
	g.POST("/search", auth.WithAuth(group.SearchChat))
	g.POST("/browse", auth.WithAuth(group.BrowseChat))

	return group
}

// PluginChat runs the tool-orchestration loop for one turn, streaming framed
// chunks as they are produced.
func (g *ChatGroup) PluginChat(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}

	profile := resolveProfile(c, req)
	pluginId := req.PluginId
	if pluginId == "" {
		pluginId = types.PluginTerminal
	}

	setStreamHeaders(c)
	runErr := g.orchestrator.Run(c.Request().Context(), profile, req.Messages, pluginId, c.Response())
	if runErr != nil {
		// Nothing has been streamed yet; fall back to a JSON error.
		c.Response().Header().Del(echo.HeaderContentType)
		return mapOrchestrationError(runErr)
	}
	return nil
}

// SearchChat and BrowseChat are the nested-dispatch targets: plain model
// passes with a component prompt, no tools, same wire framing.

func (g *ChatGroup) SearchChat(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}
	system := types.Message{Role: types.RoleSystem, Content: searchProxyPrompt}
	return g.proxyStream(c, system, req.Messages)
}

func (g *ChatGroup) BrowseChat(c echo.Context) error {
	req, err := bindChatRequest(c)
	if err != nil {
		return err
	}
	if req.Url == "" {
		return HTTPBadRequest("url is required")
	}
	system := types.Message{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf(browseProxyPrompt, req.Url),
	}
	return g.proxyStream(c, system, req.Messages)
}

func (g *ChatGroup) proxyStream(c echo.Context, system types.Message, messages []types.Message) error {
	ctx := c.Request().Context()

	deltas, err := g.provider.ChatStream(ctx, model.ChatRequest{
		Messages: append([]types.Message{system}, messages...),
	})
	if err != nil {
		return mapOrchestrationError(err)
	}

	setStreamHeaders(c)
	finishReason := types.FinishReasonStop
	for delta := range deltas {
		if delta.Err != nil {
			log.Warn().Err(delta.Err).Msg("chat: proxy stream failed")
			c.Response().Write(stream.EncodeErrorFrame("The lookup failed. Please try again."))
			c.Response().Flush()
			return nil
		}
		if delta.Content != "" {
			c.Response().Write(stream.EncodeTextFrame(delta.Content))
			c.Response().Flush()
		}
		if delta.FinishReason != "" {
			finishReason = delta.FinishReason
		}
	}

	c.Response().Write(stream.EncodeFinishFrame(finishReason))
	c.Response().Flush()
	return nil
}

func bindChatRequest(c echo.Context) (*types.ChatRequest, error) {
	var req types.ChatRequest
	if err := c.Bind(&req); err != nil {
		return nil, HTTPBadRequest("invalid request body")
	}
	if len(req.Messages) == 0 {
		return nil, HTTPBadRequest("messages are required")
	}
	return &req, nil
}

// resolveProfile overrides caller-supplied identity with the token's claims.
// Cluster admin tokens may impersonate, for internal tooling.
func resolveProfile(c echo.Context, req *types.ChatRequest) types.ProfileContext {
	profile := req.Profile
	info := auth.AuthInfoFromContext(c.Request().Context())
	if info != nil && info.TokenType == types.TokenTypeUser {
		profile.UserId = info.UserId
		profile.Premium = info.Premium
	}
	return profile
}

func setStreamHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	h.Set(echo.HeaderXContentTypeOptions, "nosniff")
	h.Set(echo.HeaderCacheControl, "no-cache")
}

func mapOrchestrationError(err error) error {
	var denied *types.ErrEntitlementDenied
	if errors.As(err, &denied) {
		return HTTPPaymentRequired("This feature requires a premium subscription.")
	}

	var limited *types.ErrRateLimited
	if errors.As(err, &limited) {
		return HTTPTooManyRequests("You have reached the usage limit for this feature.",
			int(math.Ceil(limited.RetryAfter.Seconds())))
	}

	var providerErr *types.ProviderError
	if errors.As(err, &providerErr) {
		return NewHTTPError(providerErr.Status, providerErr.Message)
	}

	log.Error().Err(err).Msg("chat: orchestration failed")
	return HTTPInternalServerError("Something went wrong. Please try again.")
}
