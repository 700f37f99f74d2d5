package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaychat/relay/pkg/types"
)

// HTTPDispatcher services web search and browse tool calls by issuing a new
// request to a dedicated endpoint and demultiplexing the child response into
// the caller's draft. Child streams are consumed with a nil dispatcher, so
// recursion stops at one level.
type HTTPDispatcher struct {
	searchEndpoint string
	browseEndpoint string
	requestBody    []byte // original turn request, replayed to the child endpoint
	bearerToken    string
	client         *http.Client
}

func NewHTTPDispatcher(cfg types.ChatConfig, requestBody []byte, bearerToken string) *HTTPDispatcher {
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HTTPDispatcher{
		searchEndpoint: cfg.SearchEndpoint,
		browseEndpoint: cfg.BrowseEndpoint,
		requestBody:    requestBody,
		bearerToken:    bearerToken,
		client:         &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, tool, targetURL string, draft *Draft) error {
	var endpoint string
	switch tool {
	case ToolWebSearch:
		endpoint = d.searchEndpoint
	case ToolBrowser:
		endpoint = d.browseEndpoint
	default:
		return fmt.Errorf("no dispatch endpoint for tool %q", tool)
	}
	if endpoint == "" {
		return fmt.Errorf("dispatch endpoint for %q not configured", tool)
	}

	body := d.requestBody
	if targetURL != "" {
		augmented, err := withTargetURL(body, targetURL)
		if err != nil {
			return fmt.Errorf("augment dispatch body: %w", err)
		}
		body = augmented
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.bearerToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", tool, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return fmt.Errorf("dispatch %s: status %d", tool, resp.StatusCode)
	}

	log.Debug().Str("tool", tool).Str("endpoint", endpoint).Msg("nested dispatch started")

	// Same draft, same abort signal, no further nesting.
	child := NewDemux(nil)
	if _, err := child.Consume(ctx, resp.Body, draft); err != nil {
		return fmt.Errorf("consume %s stream: %w", tool, err)
	}

	return nil
}

func withTargetURL(body []byte, targetURL string) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	encoded, _ := json.Marshal(targetURL)
	fields["url"] = encoded
	return json.Marshal(fields)
}
