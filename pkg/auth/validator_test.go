package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/pkg/types"
)

const testSecret = "test-secret"

func TestJWTValidatorRoundTrip(t *testing.T) {
	token, err := SignUserToken(testSecret, "user-1", true, time.Hour)
	require.NoError(t, err)

	validator := NewJWTValidator("admin-token", testSecret)
	info, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, types.TokenTypeUser, info.TokenType)
	assert.Equal(t, "user-1", info.UserId)
	assert.True(t, info.Premium)
}

func TestJWTValidatorRejectsWrongSecret(t *testing.T) {
	token, err := SignUserToken("other-secret", "user-1", false, time.Hour)
	require.NoError(t, err)

	validator := NewJWTValidator("", testSecret)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTValidatorRejectsExpired(t *testing.T) {
	token, err := SignUserToken(testSecret, "user-1", false, -time.Minute)
	require.NoError(t, err)

	validator := NewJWTValidator("", testSecret)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateClusterToken(t *testing.T) {
	validator := NewJWTValidator("admin-token", testSecret)
	assert.True(t, validator.ValidateClusterToken("admin-token"))
	assert.False(t, validator.ValidateClusterToken("wrong"))
	assert.False(t, NewJWTValidator("", testSecret).ValidateClusterToken(""))
}

func TestHTTPMiddlewareResolvesUser(t *testing.T) {
	token, err := SignUserToken(testSecret, "user-7", true, time.Hour)
	require.NoError(t, err)

	e := echo.New()
	e.Use(HTTPMiddleware(NewJWTValidator("", testSecret)))
	e.GET("/whoami", WithAuth(func(c echo.Context) error {
		return c.String(http.StatusOK, UserId(c.Request().Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", rec.Body.String())
}

func TestHTTPMiddlewareRejectsBadToken(t *testing.T) {
	e := echo.New()
	e.Use(HTTPMiddleware(NewJWTValidator("", testSecret)))
	e.GET("/whoami", WithAuth(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthRequiresToken(t *testing.T) {
	e := echo.New()
	e.Use(HTTPMiddleware(NewJWTValidator("", testSecret)))
	e.GET("/private", WithAuth(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
