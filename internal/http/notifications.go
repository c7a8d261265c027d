package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/librarian/internal/auth"
)

// NotificationsController exposes the caller's own notification outbox.
type NotificationsController struct {
	store NotificationStore
}

func NewNotificationsController(store NotificationStore) *NotificationsController {
	return &NotificationsController{store: store}
}

// List handles GET /api/notifications?unread=true
func (nc *NotificationsController) List(c *gin.Context) {
	limit, offset := parsePagination(c)
	items, total, err := nc.store.ListForUser(c.Request.Context(), auth.GetUserID(c), c.Query("unread") == "true", limit, offset)
	if err != nil {
		respondInternalError(c, err, "list notifications")
		return
	}
	c.JSON(http.StatusOK, newPage(items, total, limit, offset))
}

// UnreadCount handles GET /api/notifications/unread-count
func (nc *NotificationsController) UnreadCount(c *gin.Context) {
	count, err := nc.store.UnreadCount(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		respondInternalError(c, err, "unread count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead handles PUT /api/notifications/:id/read
func (nc *NotificationsController) MarkRead(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := nc.store.MarkRead(c.Request.Context(), auth.GetUserID(c), id); err != nil {
		respondDomainError(c, err, "mark notification read")
		return
	}
	respondSuccess(c, "notification marked as read", nil)
}

// MarkAllRead handles PUT /api/notifications/read-all
func (nc *NotificationsController) MarkAllRead(c *gin.Context) {
	n, err := nc.store.MarkAllRead(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		respondInternalError(c, err, "mark all notifications read")
		return
	}
	respondSuccess(c, "notifications marked as read", gin.H{"updated": n})
}
