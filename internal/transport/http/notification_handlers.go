package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/marketwire/internal/proto"
	"github.com/vovakirdan/marketwire/internal/store"
)

const notificationPageSize = 20

// NotificationHandlers provides HTTP handlers for notification endpoints.
type NotificationHandlers struct {
	store store.NotificationStore
	log   *zerolog.Logger
}

// NewNotificationHandlers creates a new notification handlers instance.
func NewNotificationHandlers(st store.NotificationStore, logger *zerolog.Logger) *NotificationHandlers {
	return &NotificationHandlers{store: st, log: logger}
}

// MarkAllResponse reports how many notifications were marked read.
type MarkAllResponse struct {
	Updated int64 `json:"updated"`
}

// ListNotifications returns the caller's latest notifications.
// GET /api/notifications
func (h *NotificationHandlers) ListNotifications(c *gin.Context) {
	uid := callerID(c)

	list, err := h.store.ListNotifications(c.Request.Context(), uid, notificationPageSize)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to list notifications")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(list, func(n *store.Notification, _ int) proto.EventNotification {
		return notificationToProto(n)
	}))
}

// MarkRead marks one notification read.
// PUT /api/notifications/:id/read
func (h *NotificationHandlers) MarkRead(c *gin.Context) {
	uid := callerID(c)

	n, err := h.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), uid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification not found"})
		return
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not your notification"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to mark notification read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, notificationToProto(n))
}

// MarkAllRead marks every notification of the caller read.
// PUT /api/notifications/read-all
func (h *NotificationHandlers) MarkAllRead(c *gin.Context) {
	uid := callerID(c)

	updated, err := h.store.MarkAllNotificationsRead(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to mark notifications read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, MarkAllResponse{Updated: updated})
}
