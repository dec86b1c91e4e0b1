package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	"mailguard-backend/internal/connection/repository"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// RefreshMargin is the time-to-expiry below which a token is refreshed
// proactively instead of being handed out.
const RefreshMargin = 2 * time.Minute

// tokenManager implements TokenManager interface
type tokenManager struct {
	connRepo   repository.ConnectionRepository
	refreshers map[string]TokenRefresher
	log        zerolog.Logger
}

// NewTokenManager creates a new instance of tokenManager
func NewTokenManager(connRepo repository.ConnectionRepository, refreshers map[string]TokenRefresher, log zerolog.Logger) TokenManager {
	return &tokenManager{
		connRepo:   connRepo,
		refreshers: refreshers,
		log:        log,
	}
}

// EnsureFreshToken returns a usable access token for the connection,
// refreshing it first when it is inside the safety margin. Exactly one
// persisted write happens per refresh attempt, on either outcome.
func (m *tokenManager) EnsureFreshToken(ctx context.Context, conn *conndomain.Connection) (string, time.Time, error) {
	if conn.TokenFresh(RefreshMargin) {
		return conn.AccessToken, conn.TokenExpiry, nil
	}

	refresher, ok := m.refreshers[conn.Provider]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no token refresher for provider %q", conn.Provider)
	}

	token, err := refresher.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		conn.LastError = fmt.Sprintf("token refresh failed: %v", err)
		if isGrantRevoked(err) {
			// The refresh token itself is dead; retrying next run cannot help.
			conn.Active = false
		}
		if updateErr := m.connRepo.Update(conn); updateErr != nil {
			m.log.Error().Err(updateErr).Str("connection_id", conn.ID).Msg("failed to persist refresh error")
		}
		return "", time.Time{}, fmt.Errorf("connection %s: %w", conn.ID, ErrReauthorizationRequired)
	}

	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.TokenExpiry = token.Expiry
	conn.LastError = ""
	if err := m.connRepo.Update(conn); err != nil {
		return "", time.Time{}, fmt.Errorf("persist refreshed token: %w", err)
	}

	m.log.Debug().Str("connection_id", conn.ID).Time("expiry", token.Expiry).Msg("access token refreshed")
	return conn.AccessToken, conn.TokenExpiry, nil
}

// isGrantRevoked detects the provider telling us the refresh token is
// invalid or revoked, as opposed to a transient endpoint failure.
func isGrantRevoked(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.ErrorCode == "invalid_client"
	}
	return false
}
