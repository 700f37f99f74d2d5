package auth

import (
	"context"
	"errors"

	"github.com/relaychat/relay/pkg/types"
)

type ctxKey int

const authInfoKey ctxKey = iota

var (
	ErrAuthRequired  = errors.New("authentication required")
	ErrAdminRequired = errors.New("admin access required")
)

// --- Context get/set ---

func WithAuthInfo(ctx context.Context, info *types.AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

func AuthInfoFromContext(ctx context.Context) *types.AuthInfo {
	info, _ := ctx.Value(authInfoKey).(*types.AuthInfo)
	return info
}

// --- Authorization checks ---

func RequireAuth(ctx context.Context) error {
	if AuthInfoFromContext(ctx) == nil {
		return ErrAuthRequired
	}
	return nil
}

func RequireClusterAdmin(ctx context.Context) error {
	if i := AuthInfoFromContext(ctx); i == nil || !i.IsClusterAdmin() {
		return ErrAdminRequired
	}
	return nil
}

// --- Boolean checks ---

func IsAuthenticated(ctx context.Context) bool { i := AuthInfoFromContext(ctx); return i != nil }
func IsClusterAdmin(ctx context.Context) bool {
	i := AuthInfoFromContext(ctx)
	return i != nil && i.IsClusterAdmin()
}
func IsPremium(ctx context.Context) bool { i := AuthInfoFromContext(ctx); return i != nil && i.Premium }

// --- Field accessors ---

func UserId(ctx context.Context) string {
	if i := AuthInfoFromContext(ctx); i != nil {
		return i.UserId
	}
	return ""
}
