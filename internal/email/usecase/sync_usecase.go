package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"
	connrepo "mailguard-backend/internal/connection/repository"
	connusecase "mailguard-backend/internal/connection/usecase"
	emaildomain "mailguard-backend/internal/email/domain"
	"mailguard-backend/internal/email/dto"
	"mailguard-backend/internal/email/repository"

	"github.com/rs/zerolog"
)

const (
	syncLeaseTTL = 5 * time.Minute

	// firstSyncWindow bounds how far back the first sync reaches.
	firstSyncWindow = 30 * 24 * time.Hour

	// watermarkBuffer tolerates clock skew and provider eventual consistency
	// by re-querying a short window behind the watermark. Insert dedup makes
	// the overlap harmless.
	watermarkBuffer = 5 * time.Minute

	firstSyncPageCap   = 500
	incrementalPageCap = 100
)

// syncUsecase implements SyncUsecase interface
type syncUsecase struct {
	connRepo    connrepo.ConnectionRepository
	msgRepo     repository.MessageRepository
	blockedRepo repository.BlockedSenderRepository
	runRepo     repository.SyncRunRepository
	providers   map[string]MailProvider
	tokenMgr    connusecase.TokenManager
	dispatcher  Dispatcher
	mutator     LabelMutator
	lease       SyncLease
	log         zerolog.Logger
}

// NewSyncUsecase creates a new instance of syncUsecase
func NewSyncUsecase(
	connRepo connrepo.ConnectionRepository,
	msgRepo repository.MessageRepository,
	blockedRepo repository.BlockedSenderRepository,
	runRepo repository.SyncRunRepository,
	providers map[string]MailProvider,
	tokenMgr connusecase.TokenManager,
	dispatcher Dispatcher,
	mutator LabelMutator,
	lease SyncLease,
	log zerolog.Logger,
) SyncUsecase {
	return &syncUsecase{
		connRepo:    connRepo,
		msgRepo:     msgRepo,
		blockedRepo: blockedRepo,
		runRepo:     runRepo,
		providers:   providers,
		tokenMgr:    tokenMgr,
		dispatcher:  dispatcher,
		mutator:     mutator,
		lease:       lease,
		log:         log,
	}
}

// SyncAll runs one sync per active connection, sequentially. A failing
// connection never aborts the batch; only failing to list the connections at
// all is an error, since no per-connection work has started yet.
func (u *syncUsecase) SyncAll(ctx context.Context) ([]*dto.SyncSummary, error) {
	conns, err := u.connRepo.FindActive()
	if err != nil {
		u.log.Error().Err(err).Msg("failed to list active connections")
		return nil, fmt.Errorf("list active connections: %w", err)
	}

	summaries := make([]*dto.SyncSummary, 0, len(conns))
	for _, conn := range conns {
		summaries = append(summaries, u.SyncConnection(ctx, conn))
	}
	return summaries, nil
}

// SyncConnection runs the fetch → ingest → dispatch → advance-watermark
// state machine for one connection.
func (u *syncUsecase) SyncConnection(ctx context.Context, conn *conndomain.Connection) *dto.SyncSummary {
	summary := &dto.SyncSummary{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
	}
	log := u.log.With().Str("connection_id", conn.ID).Str("user_id", conn.UserID).Logger()

	acquired, err := u.lease.Acquire(ctx, conn.ID, syncLeaseTTL)
	if err != nil {
		summary.Error = "lease: " + err.Error()
		return summary
	}
	if !acquired {
		summary.Skipped = "sync already in progress"
		return summary
	}
	defer func() {
		if err := u.lease.Release(context.WithoutCancel(ctx), conn.ID); err != nil {
			log.Warn().Err(err).Msg("failed to release sync lease")
		}
	}()

	runStart := time.Now()
	isFirstSync := conn.LastSyncAt == nil
	summary.IsFirstSync = isFirstSync

	run := &emaildomain.SyncRun{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Status:       emaildomain.SyncRunRunning,
		StartedAt:    runStart,
	}
	if err := u.runRepo.Create(run); err != nil {
		// Diagnostics only; the sync itself proceeds.
		log.Warn().Err(err).Msg("failed to open sync run record")
	}

	wasFresh := conn.TokenFresh(connusecase.RefreshMargin)
	token, _, err := u.tokenMgr.EnsureFreshToken(ctx, conn)
	if err != nil {
		if errors.Is(err, connusecase.ErrReauthorizationRequired) {
			summary.Skipped = "reauthorization required"
		} else {
			summary.Error = err.Error()
		}
		u.finishRun(run, emaildomain.SyncRunError, err.Error())
		return summary
	}
	if !wasFresh {
		run.TokensRefreshed = 1
	}

	provider, ok := u.providers[conn.Provider]
	if !ok {
		summary.Error = "unknown provider " + conn.Provider
		u.finishRun(run, emaildomain.SyncRunError, summary.Error)
		return summary
	}

	pageCap := int64(incrementalPageCap)
	if isFirstSync {
		pageCap = firstSyncPageCap
	}
	watermark := watermarkFor(conn, runStart)

	ids, err := provider.ListMessageIDs(ctx, token, watermark, pageCap)
	if err != nil {
		// The run still advances the watermark so the next invocation does
		// not refetch everything already seen; the buffer window covers the
		// messages this run missed.
		summary.Error = "list messages: " + err.Error()
		u.advanceWatermark(conn, runStart, log)
		u.finishRun(run, emaildomain.SyncRunError, summary.Error)
		return summary
	}

	batch := make([]dto.WebhookEmail, 0, len(ids))
	for _, id := range ids {
		pm, err := provider.GetMessage(ctx, token, id)
		if err != nil {
			log.Warn().Err(err).Str("provider_message_id", id).Msg("detail fetch failed; skipping message")
			summary.Failed++
			run.EmailsFailed++
			continue
		}

		msg, created, err := u.ingest(ctx, conn, token, pm, log)
		if err != nil {
			summary.Failed++
			run.EmailsFailed++
			continue
		}
		if !created {
			continue
		}

		summary.NewEmails++
		run.EmailsFetched++
		if msg.Classification == emaildomain.ClassificationBlocked {
			summary.AutoBlocked++
			run.EmailsAutoBlocked++
		}

		batch = append(batch, dto.WebhookEmail{
			MessageID:             msg.ProviderMessageID,
			ThreadID:              msg.ThreadID,
			From:                  pm.From,
			SenderEmail:           msg.SenderEmail,
			SenderName:            msg.SenderName,
			Subject:               msg.Subject,
			Snippet:               msg.Snippet,
			ReceivedDate:          msg.ReceivedAt,
			LabelIDs:              pm.LabelIDs,
			CurrentClassification: string(msg.Classification),
		})
	}

	if len(batch) > 0 && conn.WebhookURL != "" {
		payload := &dto.WebhookPayload{
			UserID:       conn.UserID,
			ConnectionID: conn.ID,
			UserEmail:    conn.MailboxEmail,
			AccessToken:  token,
			Emails:       batch,
			SyncInfo: dto.SyncInfo{
				IsFirstSync:   isFirstSync,
				TotalEmails:   len(batch),
				SyncTimestamp: runStart,
			},
		}
		if err := u.dispatcher.Dispatch(ctx, conn.WebhookURL, payload); err != nil {
			// Messages are already persisted as pending; the classifier can
			// be re-pointed at them without re-ingesting.
			log.Warn().Err(err).Msg("webhook dispatch failed")
		} else {
			summary.WebhookSent = true
			run.EmailsDispatched = len(batch)
		}
	}

	u.advanceWatermark(conn, runStart, log)

	status := emaildomain.SyncRunCompleted
	errMsg := ""
	if summary.Failed > 0 {
		errMsg = "some messages failed to sync"
	}
	u.finishRun(run, status, errMsg)

	log.Info().
		Int("new_emails", summary.NewEmails).
		Int("auto_blocked", summary.AutoBlocked).
		Int("failed", summary.Failed).
		Bool("first_sync", isFirstSync).
		Bool("webhook_sent", summary.WebhookSent).
		Msg("sync completed")
	return summary
}

// ingest parses, dedup-inserts, and (for repeat offenders) auto-blocks one
// message. Returns created=false when the row already existed.
func (u *syncUsecase) ingest(ctx context.Context, conn *conndomain.Connection, token string, pm *emaildomain.ProviderMessage, log zerolog.Logger) (*emaildomain.Message, bool, error) {
	sender := emaildomain.ParseSender(pm.From)

	msg := &emaildomain.Message{
		UserID:            conn.UserID,
		ConnectionID:      conn.ID,
		ProviderMessageID: pm.ID,
		ThreadID:          pm.ThreadID,
		SenderEmail:       sender.Email,
		SenderName:        sender.Name,
		SenderDomain:      sender.Domain,
		Subject:           pm.Subject,
		Snippet:           pm.Snippet,
		ReceivedAt:        pm.ReceivedAt,
		Classification:    emaildomain.ClassificationPending,
		Status:            emaildomain.StatusPending,
	}

	autoBlock := false
	if sender.Email != "" {
		count, err := u.blockedRepo.CountFor(conn.UserID, sender.Email)
		if err != nil {
			log.Warn().Err(err).Str("sender", sender.Email).Msg("blocked-sender lookup failed")
		} else if count >= emaildomain.AutoBlockThreshold {
			autoBlock = true
			msg.Classification = emaildomain.ClassificationBlocked
			msg.Status = emaildomain.StatusClassified
			msg.Reasoning = "sender exceeded repeat-offender threshold"
			msg.ActionTaken = "auto_blocked"
		}
	}

	created, err := u.msgRepo.Insert(msg)
	if err != nil {
		log.Error().Err(err).Str("provider_message_id", pm.ID).Msg("failed to insert message")
		return nil, false, err
	}
	if !created {
		return msg, false, nil
	}

	if autoBlock {
		u.applyAutoBlock(ctx, conn, token, msg, log)
	}
	return msg, true, nil
}

// applyAutoBlock performs the inline label mutation for a known-bad sender
// and feeds the repeat-offender counter.
func (u *syncUsecase) applyAutoBlock(ctx context.Context, conn *conndomain.Connection, token string, msg *emaildomain.Message, log zerolog.Logger) {
	res, err := u.mutator.MoveMessage(ctx, conn.Provider, token, msg.ProviderMessageID, emaildomain.ClassificationBlocked, conn.LabelMapping)
	if err != nil {
		log.Error().Err(err).Str("provider_message_id", msg.ProviderMessageID).Msg("auto-block label mutation failed")
		msg.Status = emaildomain.StatusMoveFailed
		msg.MoveError = err.Error()
	} else {
		msg.Status = emaildomain.StatusMoved
		msg.LabelApplied = true
		msg.MovedToFolder = !res.KeptInInbox
	}
	now := time.Now()
	msg.ProcessedAt = &now
	if err := u.msgRepo.Update(msg); err != nil {
		log.Error().Err(err).Str("provider_message_id", msg.ProviderMessageID).Msg("failed to persist auto-block outcome")
	}

	if err := u.blockedRepo.RecordBlock(conn.UserID, msg.SenderEmail, "auto_blocked"); err != nil {
		log.Warn().Err(err).Str("sender", msg.SenderEmail).Msg("failed to increment blocked-sender counter")
	}
}

// advanceWatermark sets last_sync_at to the run's start time. Always called
// once a run started fetching, success or partial failure.
func (u *syncUsecase) advanceWatermark(conn *conndomain.Connection, runStart time.Time, log zerolog.Logger) {
	conn.LastSyncAt = &runStart
	if err := u.connRepo.Update(conn); err != nil {
		log.Error().Err(err).Msg("failed to advance sync watermark")
	}
}

func (u *syncUsecase) finishRun(run *emaildomain.SyncRun, status emaildomain.SyncRunStatus, errMsg string) {
	now := time.Now()
	run.CompletedAt = &now
	run.Status = status
	run.ErrorMessage = errMsg
	if err := u.runRepo.Update(run); err != nil {
		u.log.Warn().Err(err).Str("sync_run_id", run.ID).Msg("failed to close sync run record")
	}
}

// watermarkFor computes the fetch boundary: the later of the last successful
// sync and the first-sync window floor, pulled back by the buffer.
func watermarkFor(conn *conndomain.Connection, now time.Time) time.Time {
	wm := now.Add(-firstSyncWindow)
	if conn.LastSyncAt != nil && conn.LastSyncAt.After(wm) {
		wm = *conn.LastSyncAt
	}
	return wm.Add(-watermarkBuffer)
}
