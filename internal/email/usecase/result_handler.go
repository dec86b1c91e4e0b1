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

// resultHandler implements ResultHandler interface
type resultHandler struct {
	connRepo    connrepo.ConnectionRepository
	msgRepo     repository.MessageRepository
	blockedRepo repository.BlockedSenderRepository
	tokenMgr    connusecase.TokenManager
	mutator     LabelMutator
	log         zerolog.Logger
}

// NewResultHandler creates a new instance of resultHandler
func NewResultHandler(
	connRepo connrepo.ConnectionRepository,
	msgRepo repository.MessageRepository,
	blockedRepo repository.BlockedSenderRepository,
	tokenMgr connusecase.TokenManager,
	mutator LabelMutator,
	log zerolog.Logger,
) ResultHandler {
	return &resultHandler{
		connRepo:    connRepo,
		msgRepo:     msgRepo,
		blockedRepo: blockedRepo,
		tokenMgr:    tokenMgr,
		mutator:     mutator,
		log:         log,
	}
}

// ApplyResults records a classifier callback batch. Each item is independent:
// one bad result collects an error string and the batch keeps going. The
// response always reports per-item outcomes, never a batch-level failure.
func (h *resultHandler) ApplyResults(ctx context.Context, userID string, results []dto.ClassificationResult) *dto.ClassificationResultsResponse {
	resp := &dto.ClassificationResultsResponse{Success: true}

	// Connections and their fresh tokens are cached across the batch; a batch
	// for one user typically maps to a single connection.
	conns := map[string]*conndomain.Connection{}
	tokens := map[string]string{}

	for _, result := range results {
		resp.Processed++
		if err := h.applyOne(ctx, userID, result, conns, tokens, resp); err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}

	h.log.Info().
		Str("user_id", userID).
		Int("processed", resp.Processed).
		Int("updated", resp.Updated).
		Int("moved", resp.Moved).
		Int("errors", len(resp.Errors)).
		Msg("classification results applied")
	return resp
}

func (h *resultHandler) applyOne(ctx context.Context, userID string, result dto.ClassificationResult, conns map[string]*conndomain.Connection, tokens map[string]string, resp *dto.ClassificationResultsResponse) error {
	msg, err := h.msgRepo.FindByProviderID(userID, result.MessageID)
	if err != nil {
		return fmt.Errorf("message %s: lookup failed: %v", result.MessageID, err)
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", result.MessageID)
	}

	classification := emaildomain.Classification(result.Classification)
	if !classification.Valid() {
		return fmt.Errorf("message %s: unknown classification %q", result.MessageID, result.Classification)
	}

	if !msg.Status.CanTransitionTo(emaildomain.StatusClassified) {
		return fmt.Errorf("message %s: already %s, result ignored", result.MessageID, msg.Status)
	}

	now := time.Now()
	msg.Classification = classification
	msg.Confidence = result.AIConfidenceScore
	msg.Reasoning = result.AIReasoning
	msg.ActionTaken = result.ActionTaken
	msg.Status = emaildomain.StatusClassified
	msg.ProcessedAt = &now
	if err := h.msgRepo.Update(msg); err != nil {
		return fmt.Errorf("message %s: update failed: %v", result.MessageID, err)
	}
	resp.Updated++

	// Negative verdicts feed the repeat-offender counter even when the move
	// below fails; the sender's record is about verdicts, not label state.
	if classification.Negative() && msg.SenderEmail != "" {
		if err := h.blockedRepo.RecordBlock(userID, msg.SenderEmail, string(classification)); err != nil {
			h.log.Warn().Err(err).Str("sender", msg.SenderEmail).Msg("failed to record blocked-sender verdict")
		}
	}

	conn, token, err := h.connFor(ctx, msg.ConnectionID, conns, tokens)
	if err != nil {
		msg.Status = emaildomain.StatusMoveFailed
		msg.MoveError = err.Error()
		if uerr := h.msgRepo.Update(msg); uerr != nil {
			h.log.Error().Err(uerr).Str("message_id", msg.ProviderMessageID).Msg("failed to persist move failure")
		}
		return fmt.Errorf("message %s: %v", result.MessageID, err)
	}

	res, err := h.mutator.MoveMessage(ctx, conn.Provider, token, msg.ProviderMessageID, classification, conn.LabelMapping)
	if err != nil {
		if errors.Is(err, ErrNoLabelMapping) {
			// No target label means the verdict stands with no mutation; this
			// is configuration, not failure.
			return nil
		}
		msg.Status = emaildomain.StatusMoveFailed
		msg.MoveError = err.Error()
		if uerr := h.msgRepo.Update(msg); uerr != nil {
			h.log.Error().Err(uerr).Str("message_id", msg.ProviderMessageID).Msg("failed to persist move failure")
		}
		return fmt.Errorf("message %s: move failed: %v", result.MessageID, err)
	}

	msg.Status = emaildomain.StatusMoved
	msg.LabelApplied = true
	msg.MovedToFolder = !res.KeptInInbox
	msg.MoveError = ""
	if err := h.msgRepo.Update(msg); err != nil {
		return fmt.Errorf("message %s: update after move failed: %v", result.MessageID, err)
	}
	resp.Moved++
	return nil
}

// connFor resolves and caches the active connection and a fresh token for a
// message's connection ID.
func (h *resultHandler) connFor(ctx context.Context, connectionID string, conns map[string]*conndomain.Connection, tokens map[string]string) (*conndomain.Connection, string, error) {
	if conn, ok := conns[connectionID]; ok {
		return conn, tokens[connectionID], nil
	}

	conn, err := h.connRepo.FindByID(connectionID)
	if err != nil {
		return nil, "", fmt.Errorf("connection lookup failed: %v", err)
	}
	if conn == nil || !conn.Active {
		return nil, "", errors.New("connection inactive or missing")
	}

	token, _, err := h.tokenMgr.EnsureFreshToken(ctx, conn)
	if err != nil {
		return nil, "", fmt.Errorf("token refresh failed: %v", err)
	}

	conns[connectionID] = conn
	tokens[connectionID] = token
	return conn, token, nil
}
