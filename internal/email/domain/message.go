package domain

import (
	"net/mail"
	"strings"
	"time"
)

// MessageStatus is the explicit lifecycle of a message across the three
// handlers that touch it (sync, dispatch, async result callback).
//
// Legal transitions:
//
//	pending     -> classified
//	classified  -> moved | move_failed
//	move_failed -> classified | moved   (result redelivery / retry)
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusClassified MessageStatus = "classified"
	StatusMoveFailed MessageStatus = "move_failed"
	StatusMoved      MessageStatus = "moved"
)

var statusTransitions = map[MessageStatus][]MessageStatus{
	StatusPending:    {StatusClassified},
	StatusClassified: {StatusMoved, StatusMoveFailed},
	StatusMoveFailed: {StatusClassified, StatusMoved},
	StatusMoved:      {},
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Message is one ingested mailbox message. provider_message_id is unique per
// user; the insert is dedup-guarded so re-delivery never creates a second row.
type Message struct {
	ID                string         `json:"id" gorm:"primaryKey"`
	UserID            string         `json:"user_id" gorm:"uniqueIndex:idx_user_provider_msg;not null"`
	ConnectionID      string         `json:"connection_id" gorm:"index;not null"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"uniqueIndex:idx_user_provider_msg;not null"`
	ThreadID          string         `json:"thread_id"`
	SenderEmail       string         `json:"sender_email" gorm:"index"`
	SenderName        string         `json:"sender_name"`
	SenderDomain      string         `json:"sender_domain"`
	Subject           string         `json:"subject"`
	Snippet           string         `json:"snippet"`
	ReceivedAt        time.Time      `json:"received_at"`
	Classification    Classification `json:"classification" gorm:"default:pending"`
	Confidence        float64        `json:"ai_confidence_score"`
	Reasoning         string         `json:"ai_reasoning"`
	ActionTaken       string         `json:"action_taken"`
	Status            MessageStatus  `json:"status" gorm:"default:pending"`
	LabelApplied      bool           `json:"label_applied"`
	MovedToFolder     bool           `json:"moved_to_folder"`
	MoveError         string         `json:"move_error"`
	ProcessedAt       *time.Time     `json:"processed_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Sender is the tolerant decomposition of a raw From header.
type Sender struct {
	Email  string
	Name   string
	Domain string
}

// ParseSender splits a raw "Name <addr>" From header. Malformed headers fall
// back to the raw string as the address rather than failing the message.
func ParseSender(raw string) Sender {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Sender{}
	}

	if addr, err := mail.ParseAddress(raw); err == nil {
		return Sender{
			Email:  strings.ToLower(addr.Address),
			Name:   addr.Name,
			Domain: domainOf(addr.Address),
		}
	}

	// No parseable angle-bracket address; keep whatever we were given.
	email := strings.ToLower(strings.Trim(raw, "<>"))
	return Sender{
		Email:  email,
		Domain: domainOf(email),
	}
}

func domainOf(addr string) string {
	if idx := strings.LastIndex(addr, "@"); idx >= 0 && idx < len(addr)-1 {
		return strings.ToLower(addr[idx+1:])
	}
	return ""
}

// ProviderMessage is the provider-neutral detail record returned by a
// mailbox provider for one message.
type ProviderMessage struct {
	ID         string
	ThreadID   string
	From       string
	Subject    string
	Snippet    string
	ReceivedAt time.Time
	LabelIDs   []string
}
