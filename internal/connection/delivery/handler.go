package delivery

import (
	"errors"
	"net/http"

	conndomain "mailguard-backend/internal/connection/domain"
	conndto "mailguard-backend/internal/connection/dto"
	"mailguard-backend/internal/connection/repository"
	"mailguard-backend/internal/connection/usecase"
	"mailguard-backend/internal/email/dto"

	"github.com/gin-gonic/gin"
)

type ConnectionHandler struct {
	oauthUsecase usecase.OAuthUsecase
	connRepo     repository.ConnectionRepository
}

func NewConnectionHandler(oauthUsecase usecase.OAuthUsecase, connRepo repository.ConnectionRepository) *ConnectionHandler {
	return &ConnectionHandler{
		oauthUsecase: oauthUsecase,
		connRepo:     connRepo,
	}
}

// AuthURL starts the consent flow for a user and provider.
func (h *ConnectionHandler) AuthURL(c *gin.Context) {
	userID := c.Query("user_id")
	provider := c.DefaultQuery("provider", "google")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	url, err := h.oauthUsecase.AuthURL(userID, provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// OAuthCallback completes the consent flow. Failures come back as structured
// {ok:false, reason, detail} so the frontend can tell a user mistake from a
// deployment problem.
func (h *ConnectionHandler) OAuthCallback(c *gin.Context) {
	var req dto.OAuthCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "invalid_request", "detail": err.Error()})
		return
	}

	conn, err := h.oauthUsecase.HandleCallback(c.Request.Context(), req.Code, req.State)
	if err != nil {
		var cbErr *usecase.CallbackError
		if errors.As(err, &cbErr) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": cbErr.Reason, "detail": cbErr.Detail})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "internal", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"message":       "mailbox connected",
		"connection_id": conn.ID,
		"mailbox":       conn.MailboxEmail,
	})
}

// ListConnections returns all connections for a user, active or not.
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	userID := c.Param("id")

	conns, err := h.connRepo.FindByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// UpdateSettings sets the webhook URL and label mapping for a connection.
// Mapping values are validated at mutation time, not here; a bad mapping
// fails closed per message instead of blocking the settings write.
func (h *ConnectionHandler) UpdateSettings(c *gin.Context) {
	id := c.Param("id")

	var req conndto.ConnectionSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.connRepo.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	if req.WebhookURL != nil {
		conn.WebhookURL = *req.WebhookURL
	}
	if req.LabelMapping != nil {
		conn.LabelMapping = conndomain.LabelMap(req.LabelMapping)
	}
	if err := h.connRepo.Update(conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Disconnect deactivates a connection without deleting it.
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	id := c.Param("id")

	if err := h.oauthUsecase.Disconnect(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "connection deactivated"})
}
