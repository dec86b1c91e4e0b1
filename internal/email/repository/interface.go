package repository

import (
	emaildomain "mailguard-backend/internal/email/domain"
)

// MessageRepository owns Message rows.
type MessageRepository interface {
	// Insert stores a new message. Returns false when a row for the same
	// (user, provider message id) already exists; the duplicate is benign.
	Insert(msg *emaildomain.Message) (bool, error)
	Update(msg *emaildomain.Message) error
	FindByProviderID(userID, providerMessageID string) (*emaildomain.Message, error)
}

// BlockedSenderRepository owns the repeat-offender counters.
type BlockedSenderRepository interface {
	CountFor(userID, senderEmail string) (int, error)
	// RecordBlock increments the counter, creating the row at count 1 on the
	// first block. The count is monotonic.
	RecordBlock(userID, senderEmail, reason string) error
}

// SyncRunRepository is the append-only sync diagnostics log.
type SyncRunRepository interface {
	Create(run *emaildomain.SyncRun) error
	Update(run *emaildomain.SyncRun) error
	FindByConnection(connectionID string, limit int) ([]*emaildomain.SyncRun, error)
}
