package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	ProviderGoogle = "google"
	ProviderNylas  = "nylas"
)

// LabelMap maps a classification tag to the provider label identifier the
// user chose for it. Stored as jsonb on the connection row.
type LabelMap map[string]string

func (m LabelMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *LabelMap) Scan(value interface{}) error {
	if value == nil {
		*m = LabelMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported label map column type")
	}
	return json.Unmarshal(data, m)
}

// Connection is a user's authorized link to one mailbox via one provider.
// At most one row exists per (user, mailbox); disconnects and irrecoverable
// refresh failures deactivate it, they never delete it.
type Connection struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"uniqueIndex:idx_user_mailbox;not null"`
	Provider     string     `json:"provider" gorm:"not null"` // "google" or "nylas"
	MailboxEmail string     `json:"mailbox_email" gorm:"uniqueIndex:idx_user_mailbox;not null"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  time.Time  `json:"token_expiry"`
	Active       bool       `json:"active" gorm:"index"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	WebhookURL   string     `json:"webhook_url"`
	LabelMapping LabelMap   `json:"label_mapping" gorm:"type:jsonb"`
	LastError    string     `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TokenFresh reports whether the access token is still usable past the given
// safety margin.
func (c *Connection) TokenFresh(margin time.Duration) bool {
	return time.Until(c.TokenExpiry) > margin
}
