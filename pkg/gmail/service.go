package gmail

import (
	"context"
	"fmt"
	"time"

	emaildomain "mailguard-backend/internal/email/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// providerTimeout bounds every outbound Gmail call. A timed-out call is a
// failure for that message or connection; the run continues with the next item.
const providerTimeout = 30 * time.Second

type Service struct {
	clientID     string
	clientSecret string
	redirectURI  string
}

func NewService(clientID, clientSecret, redirectURI string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
	}
}

func (s *Service) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		RedirectURL:  s.redirectURI,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
}

// AuthCodeURL returns the consent URL carrying the signed state blob.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code and resolves the mailbox
// address the grant belongs to.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, string, error) {
	token, err := s.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("unable to exchange authorization code: %w", err)
	}

	email, err := s.Profile(ctx, token.AccessToken)
	if err != nil {
		return nil, "", err
	}
	return token, email, nil
}

// Refresh exchanges the stored refresh credential for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force the source to refresh
	}
	return s.oauthConfig().TokenSource(ctx, token).Token()
}

// svc builds a Gmail client authenticated with an already-fresh access token.
// Token refresh is the token manager's job, not the provider client's.
func (s *Service) svc(ctx context.Context, accessToken string) (*gmail.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = providerTimeout

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// Profile returns the mailbox address for the token's grant.
func (s *Service) Profile(ctx context.Context, accessToken string) (string, error) {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return "", err
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// ListMessageIDs returns identifiers of messages received after the
// watermark, within a single page bounded by max.
func (s *Service) ListMessageIDs(ctx context.Context, accessToken string, since time.Time, max int64) ([]string, error) {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if max <= 0 || max > 500 {
		max = 500 // Gmail API maximum
	}

	q := fmt.Sprintf("after:%d", since.Unix())
	resp, err := srv.Users.Messages.List("me").Q(q).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, nil
}

// GetMessage fetches the metadata needed for ingestion and dispatch.
func (s *Service) GetMessage(ctx context.Context, accessToken, messageID string) (*emaildomain.ProviderMessage, error) {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message %s: %w", messageID, err)
	}

	return &emaildomain.ProviderMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		From:       getHeader(msg.Payload.Headers, "From"),
		Subject:    getHeader(msg.Payload.Headers, "Subject"),
		Snippet:    msg.Snippet,
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0),
		LabelIDs:   msg.LabelIds,
	}, nil
}

// ModifyLabels applies an add/remove label mutation and returns the label set
// the provider reports after the change, so callers can verify the outcome.
func (s *Service) ModifyLabels(ctx context.Context, accessToken, messageID string, addLabelIDs, removeLabelIDs []string) ([]string, error) {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	modifyReq := &gmail.ModifyMessageRequest{}
	if len(addLabelIDs) > 0 {
		modifyReq.AddLabelIds = addLabelIDs
	}
	if len(removeLabelIDs) > 0 {
		modifyReq.RemoveLabelIds = removeLabelIDs
	}

	msg, err := srv.Users.Messages.Modify("me", messageID, modifyReq).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to modify message labels: %w", err)
	}
	return msg.LabelIds, nil
}

// GetLabels reads back the current label set of a message.
func (s *Service) GetLabels(ctx context.Context, accessToken, messageID string) ([]string, error) {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).Format("minimal").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to get message: %w", err)
	}
	return msg.LabelIds, nil
}

// Watch sets up push notifications for the mailbox.
func (s *Service) Watch(ctx context.Context, accessToken, topicName string) error {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return err
	}

	// Stop any existing watch first; Gmail allows only one push client per user.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	if _, err := srv.Users.Watch("me", req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to watch mailbox: %w", err)
	}
	return nil
}

// StopWatch stops push notifications for the mailbox.
func (s *Service) StopWatch(ctx context.Context, accessToken string) error {
	srv, err := s.svc(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %w", err)
	}
	return nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}
