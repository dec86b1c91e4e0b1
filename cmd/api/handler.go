package api

import (
	connDelivery "mailguard-backend/internal/connection/delivery"
	emailDelivery "mailguard-backend/internal/email/delivery"
	"mailguard-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	emailHandler *emailDelivery.EmailHandler
	connHandler  *connDelivery.ConnectionHandler
	config       *config.Config
}

func NewHandler(emailHandler *emailDelivery.EmailHandler, connHandler *connDelivery.ConnectionHandler, cfg *config.Config) *Handler {
	return &Handler{
		emailHandler: emailHandler,
		connHandler:  connHandler,
		config:       cfg,
	}
}

// Start sets up the router and blocks serving HTTP.
func (h *Handler) Start(addr string) error {
	if h.config.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	SetupRoutes(r, h.emailHandler, h.connHandler)
	return r.Run(addr)
}
