package delivery

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"mailguard-backend/internal/email/dto"
	"mailguard-backend/internal/email/repository"
	"mailguard-backend/internal/email/usecase"
	"mailguard-backend/internal/notification"

	"github.com/gin-gonic/gin"
)

// pushEnvelope is the wrapper Pub/Sub puts around a push-delivered message.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type EmailHandler struct {
	syncUsecase   usecase.SyncUsecase
	resultHandler usecase.ResultHandler
	processor     *notification.Processor
	runRepo       repository.SyncRunRepository
}

func NewEmailHandler(syncUsecase usecase.SyncUsecase, resultHandler usecase.ResultHandler, processor *notification.Processor, runRepo repository.SyncRunRepository) *EmailHandler {
	return &EmailHandler{
		syncUsecase:   syncUsecase,
		resultHandler: resultHandler,
		processor:     processor,
		runRepo:       runRepo,
	}
}

// SyncAll runs one sync pass over every active connection. Failure before
// any per-connection work starts is a 5xx; everything later is reported
// inside the per-connection results.
func (h *EmailHandler) SyncAll(c *gin.Context) {
	summaries, err := h.syncUsecase.SyncAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SyncResponse{
		Success:   true,
		Processed: len(summaries),
		Results:   summaries,
	})
}

// PushNotification receives a Pub/Sub push-subscription delivery. It always
// answers 200: any other status makes Pub/Sub redeliver, and a notification
// we cannot decode today will not decode on the fifth attempt either.
func (h *EmailHandler) PushNotification(c *gin.Context) {
	var envelope pushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "invalid envelope"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "invalid message data"})
		return
	}

	h.processor.HandleNotification(c.Request.Context(), data)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ApplyClassificationResults receives the async classifier callback batch.
func (h *EmailHandler) ApplyClassificationResults(c *gin.Context) {
	var req dto.ClassificationResultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := h.resultHandler.ApplyResults(c.Request.Context(), req.UserID, req.Results)
	c.JSON(http.StatusOK, resp)
}

// GetSyncRuns returns the recent sync run log for a connection.
func (h *EmailHandler) GetSyncRuns(c *gin.Context) {
	connectionID := c.Param("connectionId")

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.runRepo.FindByConnection(connectionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
