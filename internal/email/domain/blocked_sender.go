package domain

import "time"

// AutoBlockThreshold is the cumulative block count at which future mail from
// a sender is classified blocked without the external classifier round trip.
const AutoBlockThreshold = 2

// BlockedSender tracks a per-user repeat offender. The counter only ever
// increases; both classifier-driven and auto-driven blocks feed it.
type BlockedSender struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	UserID             string    `json:"user_id" gorm:"uniqueIndex:idx_user_sender;not null"`
	SenderEmail        string    `json:"sender_email" gorm:"uniqueIndex:idx_user_sender;not null"`
	TotalEmailsBlocked int       `json:"total_emails_blocked"`
	LastBlockedAt      time.Time `json:"last_blocked_at"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
