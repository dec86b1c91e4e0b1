package usecase

import (
	"context"
	"errors"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"

	"golang.org/x/oauth2"
)

// ErrReauthorizationRequired means the stored refresh credential is no longer
// usable. Callers skip the connection for the current run; the user must
// reconnect the mailbox.
var ErrReauthorizationRequired = errors.New("reauthorization required")

// TokenRefresher exchanges a refresh credential for a new access token at the
// provider's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthProvider is the consent-flow surface of a mailbox provider.
type OAuthProvider interface {
	TokenRefresher
	AuthCodeURL(state string) string
	// ExchangeCode trades the authorization code for tokens and resolves the
	// mailbox address the grant belongs to.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, string, error)
	Watch(ctx context.Context, accessToken, topicName string) error
	StopWatch(ctx context.Context, accessToken string) error
}

// TokenManager owns the access/refresh token lifecycle of a connection.
type TokenManager interface {
	EnsureFreshToken(ctx context.Context, conn *conndomain.Connection) (string, time.Time, error)
}

// OAuthUsecase drives the connect/disconnect lifecycle.
type OAuthUsecase interface {
	AuthURL(userID, provider string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*conndomain.Connection, error)
	Disconnect(ctx context.Context, connectionID string) error
}
