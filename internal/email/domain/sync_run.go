package domain

import "time"

type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunError     SyncRunStatus = "error"
)

// SyncRun is the append-only observability record for one sync invocation on
// one connection. Diagnostics only; correctness never depends on it.
type SyncRun struct {
	ID                string        `json:"id" gorm:"primaryKey"`
	ConnectionID      string        `json:"connection_id" gorm:"index;not null"`
	UserID            string        `json:"user_id" gorm:"index"`
	Status            SyncRunStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       *time.Time    `json:"completed_at"`
	EmailsFetched     int           `json:"emails_fetched"`
	EmailsDispatched  int           `json:"emails_dispatched"`
	EmailsAutoBlocked int           `json:"emails_auto_blocked"`
	EmailsFailed      int           `json:"emails_failed"`
	TokensRefreshed   int           `json:"tokens_refreshed"`
	ErrorMessage      string        `json:"error_message"`
	CreatedAt         time.Time     `json:"created_at"`
}
