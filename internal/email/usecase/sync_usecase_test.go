package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	connusecase "mailguard-backend/internal/connection/usecase"
	emaildomain "mailguard-backend/internal/email/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	connRepo    *fakeConnRepo
	msgRepo     *fakeMessageRepo
	blockedRepo *fakeBlockedRepo
	runRepo     *fakeRunRepo
	provider    *fakeProvider
	tokenMgr    *fakeTokenManager
	dispatcher  *fakeDispatcher
	mutator     *fakeMutator
	lease       *fakeLease
	usecase     SyncUsecase
}

func newSyncFixture(conn *conndomain.Connection, msgs ...*emaildomain.ProviderMessage) *syncFixture {
	f := &syncFixture{
		connRepo:    newFakeConnRepo(conn),
		msgRepo:     newFakeMessageRepo(),
		blockedRepo: newFakeBlockedRepo(),
		runRepo:     &fakeRunRepo{},
		provider:    newFakeProvider(msgs...),
		tokenMgr:    &fakeTokenManager{},
		dispatcher:  &fakeDispatcher{},
		mutator:     &fakeMutator{},
		lease:       newFakeLease(),
	}
	f.usecase = NewSyncUsecase(
		f.connRepo, f.msgRepo, f.blockedRepo, f.runRepo,
		map[string]MailProvider{conndomain.ProviderGoogle: f.provider},
		f.tokenMgr, f.dispatcher, f.mutator, f.lease, zerolog.Nop(),
	)
	return f
}

func testConnection() *conndomain.Connection {
	return &conndomain.Connection{
		ID:           "conn-1",
		UserID:       "user-1",
		Provider:     conndomain.ProviderGoogle,
		MailboxEmail: "user@example.com",
		AccessToken:  "tok",
		TokenExpiry:  time.Now().Add(time.Hour),
		Active:       true,
		WebhookURL:   "https://classifier.example.com/hook",
		LabelMapping: conndomain.LabelMap{"blocked": "Label_Blocked"},
	}
}

func providerMsg(id, from string) *emaildomain.ProviderMessage {
	return &emaildomain.ProviderMessage{
		ID:         id,
		ThreadID:   "t-" + id,
		From:       from,
		Subject:    "subject " + id,
		Snippet:    "snippet",
		ReceivedAt: time.Now().Add(-time.Hour),
		LabelIDs:   []string{"INBOX", "UNREAD"},
	}
}

func TestSyncConnectionFirstSync(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn,
		providerMsg("m1", "alice@example.com"),
		providerMsg("m2", "bob@example.com"),
		providerMsg("m3", "carol@example.com"),
	)

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Empty(t, summary.Error)
	assert.Empty(t, summary.Skipped)
	assert.True(t, summary.IsFirstSync)
	assert.Equal(t, 3, summary.NewEmails)
	assert.Equal(t, 0, summary.Failed)
	assert.True(t, summary.WebhookSent)

	require.Len(t, f.dispatcher.payloads, 1, "one batch per run, not one POST per message")
	payload := f.dispatcher.payloads[0]
	assert.Len(t, payload.Emails, 3)
	assert.True(t, payload.SyncInfo.IsFirstSync)
	assert.Equal(t, "user-1", payload.UserID)

	require.NotNil(t, conn.LastSyncAt, "watermark must advance after a successful run")

	// Every persisted message starts pending.
	msg, err := f.msgRepo.FindByProviderID("user-1", "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, emaildomain.ClassificationPending, msg.Classification)
	assert.Equal(t, emaildomain.StatusPending, msg.Status)

	assert.Equal(t, []string{"conn-1"}, f.lease.released, "lease released after the run")
}

func TestSyncConnectionIsIdempotent(t *testing.T) {
	conn := testConnection()
	// Received moments ago so the second run's buffered watermark re-lists it.
	recent := providerMsg("m1", "alice@example.com")
	recent.ReceivedAt = time.Now().Add(-time.Minute)
	f := newSyncFixture(conn, recent)

	first := f.usecase.SyncConnection(context.Background(), conn)
	require.Equal(t, 1, first.NewEmails)

	// The watermark buffer makes the second run re-list the same message;
	// the unique index turns the re-insert into a silent skip.
	second := f.usecase.SyncConnection(context.Background(), conn)
	assert.Equal(t, 0, second.NewEmails)
	assert.False(t, second.IsFirstSync)
	assert.False(t, second.WebhookSent, "nothing new, nothing dispatched")
	assert.Equal(t, 1, f.msgRepo.inserts)
	assert.Len(t, f.dispatcher.payloads, 1)
}

func TestSyncConnectionAutoBlocksRepeatOffenders(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn,
		providerMsg("m1", "spammer@bad.example"),
		providerMsg("m2", "alice@example.com"),
	)
	f.blockedRepo.counts["user-1/spammer@bad.example"] = emaildomain.AutoBlockThreshold

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, 2, summary.NewEmails)
	assert.Equal(t, 1, summary.AutoBlocked)

	msg, err := f.msgRepo.FindByProviderID("user-1", "m1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, emaildomain.ClassificationBlocked, msg.Classification)
	assert.Equal(t, "auto_blocked", msg.ActionTaken)

	require.Len(t, f.mutator.calls, 1, "only the offender's message is moved at ingest")
	assert.Equal(t, "m1", f.mutator.calls[0].providerMessageID)
	assert.Equal(t, emaildomain.ClassificationBlocked, f.mutator.calls[0].classification)

	// The counter keeps growing past the threshold.
	count, _ := f.blockedRepo.CountFor("user-1", "spammer@bad.example")
	assert.Equal(t, emaildomain.AutoBlockThreshold+1, count)

	// The blocked message still rides along in the dispatch batch so the
	// classifier sees the full picture.
	require.Len(t, f.dispatcher.payloads, 1)
	require.Len(t, f.dispatcher.payloads[0].Emails, 2)
	classifications := map[string]string{}
	for _, e := range f.dispatcher.payloads[0].Emails {
		classifications[e.MessageID] = e.CurrentClassification
	}
	assert.Equal(t, "blocked", classifications["m1"])
	assert.Equal(t, "pending", classifications["m2"])
}

func TestSyncConnectionBelowThresholdNotBlocked(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn, providerMsg("m1", "onetime@bad.example"))
	f.blockedRepo.counts["user-1/onetime@bad.example"] = emaildomain.AutoBlockThreshold - 1

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, 0, summary.AutoBlocked)
	msg, _ := f.msgRepo.FindByProviderID("user-1", "m1")
	require.NotNil(t, msg)
	assert.Equal(t, emaildomain.ClassificationPending, msg.Classification)
	assert.Empty(t, f.mutator.calls)
}

func TestSyncConnectionSkipsWhenLeaseHeld(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn, providerMsg("m1", "alice@example.com"))
	f.lease.held["conn-1"] = true

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, "sync already in progress", summary.Skipped)
	assert.Equal(t, 0, summary.NewEmails)
	assert.Empty(t, f.dispatcher.payloads)
	assert.Nil(t, conn.LastSyncAt, "a skipped run must not touch the watermark")
}

func TestSyncConnectionReauthorizationRequired(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn, providerMsg("m1", "alice@example.com"))
	f.tokenMgr.err = connusecase.ErrReauthorizationRequired

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, "reauthorization required", summary.Skipped)
	assert.Nil(t, conn.LastSyncAt, "an unauthorized run must not advance the watermark")
	assert.Empty(t, f.dispatcher.payloads)
	assert.Equal(t, []string{"conn-1"}, f.lease.released)
}

func TestSyncConnectionListFailureStillAdvancesWatermark(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn)
	f.provider.listErr = errors.New("quota exceeded")

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Contains(t, summary.Error, "quota exceeded")
	assert.NotNil(t, conn.LastSyncAt, "the buffer window covers what this run missed")
}

func TestSyncConnectionPartialDetailFailure(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn,
		providerMsg("m1", "alice@example.com"),
		providerMsg("m2", "bob@example.com"),
	)
	f.provider.getErr["m2"] = errors.New("transient 500")

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, 1, summary.NewEmails)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, summary.Error, "per-message failures do not fail the run")
	require.Len(t, f.dispatcher.payloads, 1)
	assert.Len(t, f.dispatcher.payloads[0].Emails, 1)
}

func TestSyncConnectionDispatchFailureKeepsMessages(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn, providerMsg("m1", "alice@example.com"))
	f.dispatcher.err = errors.New("webhook down")

	summary := f.usecase.SyncConnection(context.Background(), conn)

	assert.Equal(t, 1, summary.NewEmails)
	assert.False(t, summary.WebhookSent)
	assert.Empty(t, summary.Error, "dispatch is fire and forget")

	msg, _ := f.msgRepo.FindByProviderID("user-1", "m1")
	require.NotNil(t, msg, "the message is persisted regardless of dispatch outcome")
	assert.NotNil(t, conn.LastSyncAt)
}

func TestSyncAllSurfacesDatabaseFailure(t *testing.T) {
	conn := testConnection()
	f := newSyncFixture(conn, providerMsg("m1", "alice@example.com"))
	f.connRepo.findActiveErr = errors.New("connection refused")

	summaries, err := f.usecase.SyncAll(context.Background())

	require.Error(t, err, "an unreachable store must not look like an empty run")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, summaries)
	assert.Empty(t, f.dispatcher.payloads)
}

func TestSyncAllCoversEveryActiveConnection(t *testing.T) {
	connA := testConnection()
	connB := testConnection()
	connB.ID = "conn-2"
	connB.UserID = "user-2"
	connB.MailboxEmail = "other@example.com"
	inactive := testConnection()
	inactive.ID = "conn-3"
	inactive.Active = false

	f := newSyncFixture(connA, providerMsg("m1", "alice@example.com"))
	f.connRepo.conns[connB.ID] = connB
	f.connRepo.conns[inactive.ID] = inactive

	summaries, err := f.usecase.SyncAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, summaries, 2, "inactive connections are not synced")
	ids := map[string]bool{}
	for _, s := range summaries {
		ids[s.ConnectionID] = true
	}
	assert.True(t, ids["conn-1"])
	assert.True(t, ids["conn-2"])
	assert.False(t, ids["conn-3"])
}
