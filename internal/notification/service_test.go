package notification

import (
	"context"
	"testing"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	"mailguard-backend/internal/email/dto"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubConnRepo struct {
	conn *conndomain.Connection
}

func (r *stubConnRepo) Upsert(conn *conndomain.Connection) (*conndomain.Connection, error) {
	return conn, nil
}
func (r *stubConnRepo) Update(conn *conndomain.Connection) error              { return nil }
func (r *stubConnRepo) FindByID(id string) (*conndomain.Connection, error)    { return nil, nil }
func (r *stubConnRepo) FindByUserID(string) ([]*conndomain.Connection, error) { return nil, nil }
func (r *stubConnRepo) FindActive() ([]*conndomain.Connection, error)         { return nil, nil }
func (r *stubConnRepo) FindActiveByMailbox(mailbox string) (*conndomain.Connection, error) {
	if r.conn != nil && r.conn.MailboxEmail == mailbox {
		return r.conn, nil
	}
	return nil, nil
}
func (r *stubConnRepo) Deactivate(id, reason string) error { return nil }

type stubSyncUsecase struct {
	synced []string
}

func (s *stubSyncUsecase) SyncAll(ctx context.Context) ([]*dto.SyncSummary, error) {
	return nil, nil
}
func (s *stubSyncUsecase) SyncConnection(ctx context.Context, conn *conndomain.Connection) *dto.SyncSummary {
	s.synced = append(s.synced, conn.ID)
	return &dto.SyncSummary{ConnectionID: conn.ID}
}

type stubCursor struct {
	last map[string]uint64
}

func (c *stubCursor) SeenHistoryID(ctx context.Context, mailbox string, historyID uint64) (bool, error) {
	if c.last == nil {
		c.last = map[string]uint64{}
	}
	if prev, ok := c.last[mailbox]; ok && historyID <= prev {
		return true, nil
	}
	c.last[mailbox] = historyID
	return false, nil
}

func newTestProcessor(conn *conndomain.Connection) (*Processor, *stubSyncUsecase) {
	sync := &stubSyncUsecase{}
	p := NewProcessor(&stubConnRepo{conn: conn}, sync, &stubCursor{}, zerolog.Nop())
	return p, sync
}

func connectedMailbox() *conndomain.Connection {
	return &conndomain.Connection{
		ID:           "conn-1",
		UserID:       "user-1",
		Provider:     conndomain.ProviderGoogle,
		MailboxEmail: "user@example.com",
		Active:       true,
		TokenExpiry:  time.Now().Add(time.Hour),
	}
}

func TestHandleNotificationTriggersSync(t *testing.T) {
	p, sync := newTestProcessor(connectedMailbox())

	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"user@example.com","historyId":42}`))

	assert.Equal(t, []string{"conn-1"}, sync.synced)
}

func TestHandleNotificationDeduplicatesRedelivery(t *testing.T) {
	p, sync := newTestProcessor(connectedMailbox())

	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"user@example.com","historyId":42}`))
	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"user@example.com","historyId":42}`))
	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"user@example.com","historyId":41}`))

	assert.Len(t, sync.synced, 1, "redelivered and stale history ids are dropped")

	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"user@example.com","historyId":43}`))
	assert.Len(t, sync.synced, 2)
}

func TestHandleNotificationUnknownMailbox(t *testing.T) {
	p, sync := newTestProcessor(connectedMailbox())

	p.HandleNotification(context.Background(), []byte(`{"emailAddress":"stranger@example.com","historyId":7}`))

	assert.Empty(t, sync.synced)
}

func TestHandleNotificationGarbagePayload(t *testing.T) {
	p, sync := newTestProcessor(connectedMailbox())

	p.HandleNotification(context.Background(), []byte(`not json`))
	p.HandleNotification(context.Background(), []byte(`{}`))

	assert.Empty(t, sync.synced)
}
