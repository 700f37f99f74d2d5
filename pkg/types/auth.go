package types

const (
	TokenTypeClusterAdmin = "cluster_admin"
	TokenTypeUser         = "user"
)

// AuthInfo is attached to a request context after token validation.
type AuthInfo struct {
	TokenType string
	UserId    string
	Premium   bool
}

func (a *AuthInfo) IsClusterAdmin() bool {
	return a.TokenType == TokenTypeClusterAdmin
}
