package api

import (
	"net/http"

	connDelivery "mailguard-backend/internal/connection/delivery"
	emailDelivery "mailguard-backend/internal/email/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, emailHandler *emailDelivery.EmailHandler, connHandler *connDelivery.ConnectionHandler) {
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Sync triggers
		api.POST("/sync", emailHandler.SyncAll)
		api.POST("/push", emailHandler.PushNotification)
		api.GET("/sync/runs/:connectionId", emailHandler.GetSyncRuns)

		// Classifier callback
		api.POST("/classification-results", emailHandler.ApplyClassificationResults)

		// OAuth / connection lifecycle
		oauth := api.Group("/oauth")
		{
			oauth.GET("/url", connHandler.AuthURL)
			oauth.POST("/callback", connHandler.OAuthCallback)
		}

		// Both routes share the :id name; gin rejects differing wildcard
		// names at the same position.
		connections := api.Group("/connections")
		{
			connections.GET("/user/:id", connHandler.ListConnections)
			connections.PUT("/:id/settings", connHandler.UpdateSettings)
			connections.POST("/:id/disconnect", connHandler.Disconnect)
		}
	}
}
