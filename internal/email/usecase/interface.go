package usecase

import (
	"context"
	"errors"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	emaildomain "mailguard-backend/internal/email/domain"
	"mailguard-backend/internal/email/dto"
)

var (
	// ErrLabelSafety means a mutation would have touched a reserved system
	// label. The mutation is aborted before any provider call; losing mail is
	// irreversible, a skipped classification is not.
	ErrLabelSafety = errors.New("label safety violation")

	// ErrNoLabelMapping means the connection has no label configured for the
	// classification. Fail closed, no API call.
	ErrNoLabelMapping = errors.New("no label mapping for classification")
)

// MailProvider is the provider-neutral mailbox surface used by the sync
// engine and the label mutator. Every call authenticates with an
// already-fresh bearer token.
type MailProvider interface {
	ListMessageIDs(ctx context.Context, accessToken string, since time.Time, max int64) ([]string, error)
	GetMessage(ctx context.Context, accessToken, messageID string) (*emaildomain.ProviderMessage, error)
	ModifyLabels(ctx context.Context, accessToken, messageID string, addLabelIDs, removeLabelIDs []string) ([]string, error)
	GetLabels(ctx context.Context, accessToken, messageID string) ([]string, error)
}

// SyncLease is the per-connection mutual exclusion acquired for the duration
// of one sync run. Held leases are skipped, never queued.
type SyncLease interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, connectionID string) error
}

// Dispatcher posts one classification batch per run to the user's webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, webhookURL string, payload *dto.WebhookPayload) error
}

// MoveResult reports what a successful label mutation did.
type MoveResult struct {
	KeptInInbox bool
	FinalLabels []string
}

// LabelMutator turns a classification into a safety-checked label mutation.
type LabelMutator interface {
	MoveMessage(ctx context.Context, provider, accessToken, providerMessageID string, classification emaildomain.Classification, mapping conndomain.LabelMap) (*MoveResult, error)
}

// SyncUsecase is the incremental sync engine. SyncAll returns an error only
// when it fails before any per-connection work starts; per-connection
// failures live in the summaries.
type SyncUsecase interface {
	SyncAll(ctx context.Context) ([]*dto.SyncSummary, error)
	SyncConnection(ctx context.Context, conn *conndomain.Connection) *dto.SyncSummary
}

// ResultHandler applies asynchronous classification results.
type ResultHandler interface {
	ApplyResults(ctx context.Context, userID string, results []dto.ClassificationResult) *dto.ClassificationResultsResponse
}
