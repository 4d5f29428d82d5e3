package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/marketwire/internal/auth"
	"github.com/vovakirdan/marketwire/internal/config"
	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/store"
)

// NewServer builds the HTTP server. The WebSocket endpoint sits on the mux
// directly; gin serves health, metrics and the authenticated REST API.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, gatherer prometheus.Gatherer, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	conversations := NewConversationHandlers(st, hub, logger)
	notifications := NewNotificationHandlers(st, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(authService, logger))
	{
		api.GET("/conversations", conversations.ListConversations)
		api.POST("/conversations/initiate", conversations.InitiateConversation)
		api.GET("/conversations/:id", conversations.GetConversation)
		api.PUT("/conversations/:id/read", conversations.MarkRead)

		api.GET("/notifications", notifications.ListNotifications)
		api.PUT("/notifications/read-all", notifications.MarkAllRead)
		api.PUT("/notifications/:id/read", notifications.MarkRead)
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
