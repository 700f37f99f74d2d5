package model

import (
	"net/http"
	"strings"

	"github.com/relaychat/relay/pkg/types"
)

// providerErrorRule rewrites a known upstream failure into a stable
// (status, message) pair shown to the user.
type providerErrorRule struct {
	substrings []string
	status     int
	message    string
}

var providerErrorTable = []providerErrorRule{
	{
		substrings: []string{"invalid_api_key", "Incorrect API key"},
		status:     http.StatusUnauthorized,
		message:    "Authentication with the model provider failed. Please check the configured API key.",
	},
	{
		substrings: []string{"insufficient_quota", "exceeded your current quota"},
		status:     http.StatusPaymentRequired,
		message:    "The model provider quota has been exhausted. Please try again later.",
	},
	{
		substrings: []string{"rate_limit_exceeded", "Rate limit reached"},
		status:     http.StatusTooManyRequests,
		message:    "The model provider is rate limiting requests. Please try again in a moment.",
	},
	{
		substrings: []string{"server_error", "The server had an error", "overloaded"},
		status:     http.StatusServiceUnavailable,
		message:    "The model provider is currently overloaded. Please try again later.",
	},
	{
		substrings: []string{"unsupported_country_region_territory", "Country, region, or territory not supported"},
		status:     http.StatusForbidden,
		message:    "The model provider is not available in this region.",
	},
}

// MapProviderError converts an upstream status and response text into a
// *types.ProviderError using the fixed rewrite table. Unrecognized failures
// keep the upstream status (502 for transport errors) and a generic message.
func MapProviderError(status int, body string) *types.ProviderError {
	for _, rule := range providerErrorTable {
		for _, sub := range rule.substrings {
			if strings.Contains(body, sub) {
				return &types.ProviderError{Status: rule.status, Message: rule.message}
			}
		}
	}

	if status == 0 {
		status = http.StatusBadGateway
	}
	return &types.ProviderError{
		Status:  status,
		Message: "The model provider returned an unexpected error. Please try again.",
	}
}
