package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	"mailguard-backend/internal/connection/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// CallbackError carries the structured failure reason returned to the OAuth
// callback caller.
type CallbackError struct {
	Reason string
	Detail string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// SyncTrigger is invoked after a successful connect to run an immediate
// first sync in the background.
type SyncTrigger func(ctx context.Context, conn *conndomain.Connection)

// oauthUsecase implements OAuthUsecase interface
type oauthUsecase struct {
	connRepo    repository.ConnectionRepository
	providers   map[string]OAuthProvider
	stateSecret string
	fingerprint string
	topicName   string
	syncTrigger SyncTrigger
	log         zerolog.Logger
}

// NewOAuthUsecase creates a new instance of oauthUsecase. fingerprint ties a
// state blob to the client configuration that issued it, so a callback signed
// against rotated credentials is rejected instead of silently mis-exchanged.
func NewOAuthUsecase(connRepo repository.ConnectionRepository, providers map[string]OAuthProvider, stateSecret, clientID, redirectURI, topicName string, log zerolog.Logger) *oauthUsecase {
	sum := sha256.Sum256([]byte(clientID + "|" + redirectURI))
	return &oauthUsecase{
		connRepo:    connRepo,
		providers:   providers,
		stateSecret: stateSecret,
		fingerprint: hex.EncodeToString(sum[:])[:12],
		topicName:   topicName,
		log:         log,
	}
}

// SetSyncTrigger wires the immediate-sync callback after construction, the
// same way the sync usecase itself depends on connections.
func (u *oauthUsecase) SetSyncTrigger(trigger SyncTrigger) {
	u.syncTrigger = trigger
}

// AuthURL builds the provider consent URL with a signed state blob.
func (u *oauthUsecase) AuthURL(userID, provider string) (string, error) {
	p, ok := u.providers[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}

	claims := jwt.MapClaims{
		"user_id":  userID,
		"provider": provider,
		"cfg":      u.fingerprint,
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
		"iat":      time.Now().Unix(),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(u.stateSecret))
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// HandleCallback exchanges the authorization code, upserts the connection,
// arms push notifications, and kicks off an immediate sync.
func (u *oauthUsecase) HandleCallback(ctx context.Context, code, state string) (*conndomain.Connection, error) {
	userID, provider, err := u.parseState(state)
	if err != nil {
		return nil, err
	}

	p, ok := u.providers[provider]
	if !ok {
		return nil, &CallbackError{Reason: "invalid_state", Detail: fmt.Sprintf("unknown provider %q", provider)}
	}

	token, mailbox, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, &CallbackError{Reason: "exchange_failed", Detail: err.Error()}
	}

	conn, err := u.connRepo.Upsert(&conndomain.Connection{
		UserID:       userID,
		Provider:     provider,
		MailboxEmail: mailbox,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	})
	if err != nil {
		return nil, &CallbackError{Reason: "store_failed", Detail: err.Error()}
	}

	if u.topicName != "" {
		if err := p.Watch(ctx, conn.AccessToken, u.topicName); err != nil {
			// Push is an optimization; polling still covers this mailbox.
			u.log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to arm mailbox watch")
		}
	}

	if u.syncTrigger != nil {
		go u.syncTrigger(context.WithoutCancel(ctx), conn)
	}

	u.log.Info().Str("connection_id", conn.ID).Str("mailbox", mailbox).Str("provider", provider).Msg("mailbox connected")
	return conn, nil
}

// Disconnect deactivates the connection and stops the provider watch. The
// row is kept for audit and reconnect.
func (u *oauthUsecase) Disconnect(ctx context.Context, connectionID string) error {
	conn, err := u.connRepo.FindByID(connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return errors.New("connection not found")
	}

	if p, ok := u.providers[conn.Provider]; ok {
		if err := p.StopWatch(ctx, conn.AccessToken); err != nil {
			u.log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to stop mailbox watch")
		}
	}
	return u.connRepo.Deactivate(connectionID, "disconnected by user")
}

func (u *oauthUsecase) parseState(state string) (userID, provider string, err error) {
	token, err := jwt.Parse(state, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(u.stateSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", &CallbackError{Reason: "invalid_state", Detail: "state signature invalid or expired"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", &CallbackError{Reason: "invalid_state", Detail: "malformed state claims"}
	}

	userID, _ = claims["user_id"].(string)
	provider, _ = claims["provider"].(string)
	if userID == "" || provider == "" {
		return "", "", &CallbackError{Reason: "invalid_state", Detail: "state missing user or provider"}
	}

	if cfg, _ := claims["cfg"].(string); cfg != u.fingerprint {
		return "", "", &CallbackError{Reason: "config_mismatch", Detail: "state was issued for a different client configuration"}
	}
	return userID, provider, nil
}
