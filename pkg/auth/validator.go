package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaychat/relay/pkg/types"
)

// TokenValidator resolves bearer tokens into AuthInfo.
type TokenValidator interface {
	ValidateClusterToken(token string) bool
	ValidateToken(ctx context.Context, token string) (*types.AuthInfo, error)
}

// Claims are the JWT claims issued for end users.
type Claims struct {
	Premium bool `json:"premium"`
	jwt.RegisteredClaims
}

// JWTValidator checks the cluster admin token first, then verifies user JWTs
// against a shared HMAC secret.
type JWTValidator struct {
	clusterToken string
	secret       []byte
}

func NewJWTValidator(clusterToken, secret string) *JWTValidator {
	return &JWTValidator{clusterToken: clusterToken, secret: []byte(secret)}
}

func (v *JWTValidator) ValidateClusterToken(token string) bool {
	return v.clusterToken != "" && token == v.clusterToken
}

func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (*types.AuthInfo, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &types.AuthInfo{
		TokenType: types.TokenTypeUser,
		UserId:    claims.Subject,
		Premium:   claims.Premium,
	}, nil
}

// SignUserToken issues an HMAC-signed user token. Used by the CLI in local
// mode and by tests.
func SignUserToken(secret, userId string, premium bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Premium: premium,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// StaticValidator only checks the cluster admin token; user tokens are
// rejected. Used when no JWT secret is configured.
type StaticValidator struct {
	clusterToken string
}

func NewStaticValidator(clusterToken string) *StaticValidator {
	return &StaticValidator{clusterToken: clusterToken}
}

func (v *StaticValidator) ValidateClusterToken(token string) bool {
	return v.clusterToken == "" || token == v.clusterToken
}

func (v *StaticValidator) ValidateToken(ctx context.Context, token string) (*types.AuthInfo, error) {
	return nil, nil
}
