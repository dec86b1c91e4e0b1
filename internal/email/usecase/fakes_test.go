package usecase

import (
	"context"
	"errors"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	emaildomain "mailguard-backend/internal/email/domain"
	"mailguard-backend/internal/email/dto"
)

// In-memory fakes for the repository and provider surfaces. They implement
// only what the tests exercise.

type fakeConnRepo struct {
	conns         map[string]*conndomain.Connection
	findActiveErr error
}

func newFakeConnRepo(conns ...*conndomain.Connection) *fakeConnRepo {
	r := &fakeConnRepo{conns: map[string]*conndomain.Connection{}}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *fakeConnRepo) Upsert(conn *conndomain.Connection) (*conndomain.Connection, error) {
	r.conns[conn.ID] = conn
	return conn, nil
}

func (r *fakeConnRepo) Update(conn *conndomain.Connection) error {
	r.conns[conn.ID] = conn
	return nil
}

func (r *fakeConnRepo) FindByID(id string) (*conndomain.Connection, error) {
	return r.conns[id], nil
}

func (r *fakeConnRepo) FindByUserID(userID string) ([]*conndomain.Connection, error) {
	var out []*conndomain.Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConnRepo) FindActive() ([]*conndomain.Connection, error) {
	if r.findActiveErr != nil {
		return nil, r.findActiveErr
	}
	var out []*conndomain.Connection
	for _, c := range r.conns {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConnRepo) FindActiveByMailbox(mailboxEmail string) (*conndomain.Connection, error) {
	for _, c := range r.conns {
		if c.Active && c.MailboxEmail == mailboxEmail {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeConnRepo) Deactivate(id, reason string) error {
	if c, ok := r.conns[id]; ok {
		c.Active = false
		c.LastError = reason
	}
	return nil
}

type fakeMessageRepo struct {
	messages map[string]*emaildomain.Message // keyed by userID+"/"+providerMessageID
	inserts  int
	updates  int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: map[string]*emaildomain.Message{}}
}

func msgKey(userID, providerMessageID string) string {
	return userID + "/" + providerMessageID
}

func (r *fakeMessageRepo) Insert(msg *emaildomain.Message) (bool, error) {
	key := msgKey(msg.UserID, msg.ProviderMessageID)
	if _, exists := r.messages[key]; exists {
		return false, nil
	}
	copied := *msg
	r.messages[key] = &copied
	r.inserts++
	return true, nil
}

func (r *fakeMessageRepo) Update(msg *emaildomain.Message) error {
	copied := *msg
	r.messages[msgKey(msg.UserID, msg.ProviderMessageID)] = &copied
	r.updates++
	return nil
}

func (r *fakeMessageRepo) FindByProviderID(userID, providerMessageID string) (*emaildomain.Message, error) {
	if msg, ok := r.messages[msgKey(userID, providerMessageID)]; ok {
		copied := *msg
		return &copied, nil
	}
	return nil, nil
}

type fakeBlockedRepo struct {
	counts map[string]int // keyed by userID+"/"+senderEmail
}

func newFakeBlockedRepo() *fakeBlockedRepo {
	return &fakeBlockedRepo{counts: map[string]int{}}
}

func (r *fakeBlockedRepo) CountFor(userID, senderEmail string) (int, error) {
	return r.counts[userID+"/"+senderEmail], nil
}

func (r *fakeBlockedRepo) RecordBlock(userID, senderEmail, reason string) error {
	r.counts[userID+"/"+senderEmail]++
	return nil
}

type fakeRunRepo struct {
	runs []*emaildomain.SyncRun
}

func (r *fakeRunRepo) Create(run *emaildomain.SyncRun) error {
	run.ID = "run-" + time.Now().Format("150405.000000000")
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRunRepo) Update(run *emaildomain.SyncRun) error { return nil }

func (r *fakeRunRepo) FindByConnection(connectionID string, limit int) ([]*emaildomain.SyncRun, error) {
	return r.runs, nil
}

// fakeProvider serves a fixed message set and records every label mutation.
type fakeProvider struct {
	messages map[string]*emaildomain.ProviderMessage
	labels   map[string][]string // post-mutation label state per message

	listErr error
	getErr  map[string]error

	modifyCalls []modifyCall
	modifyErr   error
	// modifyResult overrides the returned label set when non-nil, used to
	// simulate the provider trashing a message on its own.
	modifyResult map[string][]string
}

type modifyCall struct {
	messageID string
	add       []string
	remove    []string
}

func newFakeProvider(msgs ...*emaildomain.ProviderMessage) *fakeProvider {
	p := &fakeProvider{
		messages: map[string]*emaildomain.ProviderMessage{},
		labels:   map[string][]string{},
		getErr:   map[string]error{},
	}
	for _, m := range msgs {
		p.messages[m.ID] = m
		p.labels[m.ID] = append([]string{}, m.LabelIDs...)
	}
	return p
}

func (p *fakeProvider) ListMessageIDs(ctx context.Context, accessToken string, since time.Time, max int64) ([]string, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	var ids []string
	for id, m := range p.messages {
		if m.ReceivedAt.After(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*emaildomain.ProviderMessage, error) {
	if err := p.getErr[messageID]; err != nil {
		return nil, err
	}
	m, ok := p.messages[messageID]
	if !ok {
		return nil, errors.New("message not found")
	}
	return m, nil
}

func (p *fakeProvider) ModifyLabels(ctx context.Context, accessToken, messageID string, addLabelIDs, removeLabelIDs []string) ([]string, error) {
	p.modifyCalls = append(p.modifyCalls, modifyCall{messageID: messageID, add: addLabelIDs, remove: removeLabelIDs})
	if forced, ok := p.modifyResult[messageID]; ok {
		delete(p.modifyResult, messageID)
		p.labels[messageID] = forced
		return forced, nil
	}
	if p.modifyErr != nil {
		return nil, p.modifyErr
	}

	current := map[string]bool{}
	for _, l := range p.labels[messageID] {
		current[l] = true
	}
	for _, l := range addLabelIDs {
		current[l] = true
	}
	for _, l := range removeLabelIDs {
		delete(current, l)
	}
	var out []string
	for l := range current {
		out = append(out, l)
	}
	p.labels[messageID] = out
	return out, nil
}

func (p *fakeProvider) GetLabels(ctx context.Context, accessToken, messageID string) ([]string, error) {
	return p.labels[messageID], nil
}

type fakeDispatcher struct {
	payloads []*dto.WebhookPayload
	err      error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, webhookURL string, payload *dto.WebhookPayload) error {
	if d.err != nil {
		return d.err
	}
	d.payloads = append(d.payloads, payload)
	return nil
}

// fakeLease grants everything unless told otherwise.
type fakeLease struct {
	held     map[string]bool
	acquired []string
	released []string
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: map[string]bool{}}
}

func (l *fakeLease) Acquire(ctx context.Context, connectionID string, ttl time.Duration) (bool, error) {
	if l.held[connectionID] {
		return false, nil
	}
	l.held[connectionID] = true
	l.acquired = append(l.acquired, connectionID)
	return true, nil
}

func (l *fakeLease) Release(ctx context.Context, connectionID string) error {
	l.held[connectionID] = false
	l.released = append(l.released, connectionID)
	return nil
}

// fakeTokenManager hands back the stored token unless primed with an error.
type fakeTokenManager struct {
	err      error
	refreshs int
}

func (m *fakeTokenManager) EnsureFreshToken(ctx context.Context, conn *conndomain.Connection) (string, time.Time, error) {
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	if !conn.TokenFresh(2 * time.Minute) {
		m.refreshs++
		conn.TokenExpiry = time.Now().Add(time.Hour)
	}
	return conn.AccessToken, conn.TokenExpiry, nil
}

type fakeMutator struct {
	calls []mutatorCall
	err   error
}

type mutatorCall struct {
	providerMessageID string
	classification    emaildomain.Classification
}

func (m *fakeMutator) MoveMessage(ctx context.Context, provider, accessToken, providerMessageID string, classification emaildomain.Classification, mapping conndomain.LabelMap) (*MoveResult, error) {
	m.calls = append(m.calls, mutatorCall{providerMessageID: providerMessageID, classification: classification})
	if m.err != nil {
		return nil, m.err
	}
	return &MoveResult{KeptInInbox: classification.Behavior().KeepInInbox}, nil
}
