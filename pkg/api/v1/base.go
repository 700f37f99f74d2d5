package apiv1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	HttpServerBaseRoute string = "/api/v1"
	HttpServerRootRoute string = ""
)

func NewHTTPError(code int, message string) error {
	return echo.NewHTTPError(code, map[string]interface{}{
		"message": message,
	})
}

func HTTPBadRequest(message string) error {
	return NewHTTPError(http.StatusBadRequest, message)
}

func HTTPInternalServerError(message string) error {
	return NewHTTPError(http.StatusInternalServerError, message)
}

func HTTPUnauthorized(message string) error {
	return NewHTTPError(http.StatusUnauthorized, message)
}

func HTTPForbidden(message string) error {
	return NewHTTPError(http.StatusForbidden, message)
}

func HTTPPaymentRequired(message string) error {
	return NewHTTPError(http.StatusPaymentRequired, message)
}

// HTTPTooManyRequests carries the retry window in both the message and the
// structured field so clients can surface a countdown.
func HTTPTooManyRequests(message string, retryAfterS int) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, map[string]interface{}{
		"message":     fmt.Sprintf("%s Try again in %ds.", message, retryAfterS),
		"retry_after": retryAfterS,
	})
}
