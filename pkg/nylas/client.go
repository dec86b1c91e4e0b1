// Package nylas is a minimal Nylas v3 REST client covering the calls the
// sync pipeline needs. There is no official Go SDK; the API is plain JSON
// over HTTP with bearer authentication.
package nylas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	emaildomain "mailguard-backend/internal/email/domain"

	"golang.org/x/oauth2"
)

const providerTimeout = 30 * time.Second

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	baseURL      string
	httpClient   *http.Client
}

func NewClient(clientID, clientSecret, redirectURI, baseURL string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: providerTimeout},
	}
}

// AuthCodeURL returns the hosted-auth consent URL carrying the state blob.
func (c *Client) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	q.Set("state", state)
	return c.baseURL + "/v3/connect/auth?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Email        string `json:"email"`
	GrantID      string `json:"grant_id"`
}

// ExchangeCode exchanges an authorization code for tokens and the mailbox
// address the grant belongs to.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, string, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "authorization_code",
		"redirect_uri":  c.redirectURI,
		"code":          code,
	}

	var resp tokenResponse
	if err := c.postJSON(ctx, "/v3/connect/token", "", body, &resp); err != nil {
		return nil, "", fmt.Errorf("unable to exchange authorization code: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, resp.Email, nil
}

// Refresh exchanges the stored refresh credential for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}

	var resp tokenResponse
	if err := c.postJSON(ctx, "/v3/connect/token", "", body, &resp); err != nil {
		return nil, fmt.Errorf("unable to refresh token: %w", err)
	}

	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

type grantResponse struct {
	Data struct {
		Email string `json:"email"`
	} `json:"data"`
}

// Profile returns the mailbox address for the token's grant.
func (c *Client) Profile(ctx context.Context, accessToken string) (string, error) {
	var resp grantResponse
	if err := c.getJSON(ctx, "/v3/grants/me", accessToken, &resp); err != nil {
		return "", fmt.Errorf("unable to retrieve grant: %w", err)
	}
	return resp.Data.Email, nil
}

type nylasMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"from"`
	Subject string   `json:"subject"`
	Snippet string   `json:"snippet"`
	Date    int64    `json:"date"`
	Folders []string `json:"folders"`
}

// ListMessageIDs returns identifiers of messages received after the
// watermark, within a single page bounded by max.
func (c *Client) ListMessageIDs(ctx context.Context, accessToken string, since time.Time, max int64) ([]string, error) {
	if max <= 0 || max > 500 {
		max = 500
	}

	q := url.Values{}
	q.Set("received_after", strconv.FormatInt(since.Unix(), 10))
	q.Set("limit", strconv.FormatInt(max, 10))
	q.Set("select", "id")

	var resp struct {
		Data []nylasMessage `json:"data"`
	}
	if err := c.getJSON(ctx, "/v3/grants/me/messages?"+q.Encode(), accessToken, &resp); err != nil {
		return nil, fmt.Errorf("unable to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Data))
	for _, msg := range resp.Data {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

// GetMessage fetches the metadata needed for ingestion and dispatch.
func (c *Client) GetMessage(ctx context.Context, accessToken, messageID string) (*emaildomain.ProviderMessage, error) {
	var resp struct {
		Data nylasMessage `json:"data"`
	}
	if err := c.getJSON(ctx, "/v3/grants/me/messages/"+url.PathEscape(messageID), accessToken, &resp); err != nil {
		return nil, fmt.Errorf("unable to retrieve message %s: %w", messageID, err)
	}

	from := ""
	if len(resp.Data.From) > 0 {
		if resp.Data.From[0].Name != "" {
			from = fmt.Sprintf("%s <%s>", resp.Data.From[0].Name, resp.Data.From[0].Email)
		} else {
			from = resp.Data.From[0].Email
		}
	}

	return &emaildomain.ProviderMessage{
		ID:         resp.Data.ID,
		ThreadID:   resp.Data.ThreadID,
		From:       from,
		Subject:    resp.Data.Subject,
		Snippet:    resp.Data.Snippet,
		ReceivedAt: time.Unix(resp.Data.Date, 0),
		LabelIDs:   resp.Data.Folders,
	}, nil
}

// ModifyLabels emulates Gmail's add/remove semantics on top of Nylas's
// whole-set folder update, and returns the resulting folder set.
func (c *Client) ModifyLabels(ctx context.Context, accessToken, messageID string, addLabelIDs, removeLabelIDs []string) ([]string, error) {
	current, err := c.GetLabels(ctx, accessToken, messageID)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, len(current)+len(addLabelIDs))
	removed := make(map[string]bool, len(removeLabelIDs))
	for _, id := range removeLabelIDs {
		removed[id] = true
	}
	seen := make(map[string]bool)
	for _, id := range current {
		if !removed[id] && !seen[id] {
			next = append(next, id)
			seen[id] = true
		}
	}
	for _, id := range addLabelIDs {
		if !seen[id] {
			next = append(next, id)
			seen[id] = true
		}
	}

	var resp struct {
		Data nylasMessage `json:"data"`
	}
	body := map[string]interface{}{"folders": next}
	if err := c.putJSON(ctx, "/v3/grants/me/messages/"+url.PathEscape(messageID), accessToken, body, &resp); err != nil {
		return nil, fmt.Errorf("unable to modify message folders: %w", err)
	}
	return resp.Data.Folders, nil
}

// GetLabels reads back the current folder set of a message.
func (c *Client) GetLabels(ctx context.Context, accessToken, messageID string) ([]string, error) {
	msg, err := c.GetMessage(ctx, accessToken, messageID)
	if err != nil {
		return nil, err
	}
	return msg.LabelIDs, nil
}

// Watch is a no-op: Nylas delivers change notifications through its own
// webhook configuration, not a per-mailbox watch call.
func (c *Client) Watch(ctx context.Context, accessToken, topicName string) error {
	return nil
}

func (c *Client) StopWatch(ctx context.Context, accessToken string) error {
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, accessToken, out)
}

func (c *Client) postJSON(ctx context.Context, path, accessToken string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, accessToken, out)
}

func (c *Client) putJSON(ctx context.Context, path, accessToken string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, accessToken, out)
}

func (c *Client) do(req *http.Request, accessToken string, out interface{}) error {
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("nylas API status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
