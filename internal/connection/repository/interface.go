package repository

import (
	conndomain "mailguard-backend/internal/connection/domain"
)

// ConnectionRepository owns Connection rows in the backing store.
type ConnectionRepository interface {
	// Upsert creates the connection or, when a row for the same
	// (user, mailbox) pair exists, refreshes its credential material and
	// reactivates it. Enforces the one-active-connection invariant.
	Upsert(conn *conndomain.Connection) (*conndomain.Connection, error)
	Update(conn *conndomain.Connection) error
	FindByID(id string) (*conndomain.Connection, error)
	FindByUserID(userID string) ([]*conndomain.Connection, error)
	FindActive() ([]*conndomain.Connection, error)
	FindActiveByMailbox(mailboxEmail string) (*conndomain.Connection, error)
	Deactivate(id, reason string) error
}
