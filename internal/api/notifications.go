package api

import (
	"errors"
	"net/http"
	"strconv"

	"finance_tracker/internal/store"

	"github.com/gin-gonic/gin"
)

const maxNotificationPage = 100

// ListNotificationsHandler returns the caller's notifications, newest first.
// ?unread=true restricts the list to unread ones.
func ListNotificationsHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := actorFrom(c).ID
		unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
		limit := queryInt(c, "limit")
		if limit <= 0 || limit > maxNotificationPage {
			limit = maxNotificationPage
		}
		ns, err := st.ListNotifications(c.Request.Context(), userID, unreadOnly, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": ns})
	}
}

// MarkNotificationReadHandler acknowledges one of the caller's notifications
func MarkNotificationReadHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		err := st.MarkNotificationRead(c.Request.Context(), actorFrom(c).ID, id)
		if errors.Is(err, store.ErrNotFound) {
			abort(c, http.StatusNotFound, CodeNoNotice, "Notification not found")
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
	}
}

// MarkAllNotificationsReadHandler acknowledges every unread notification of the caller
func MarkAllNotificationsReadHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := st.MarkAllNotificationsRead(c.Request.Context(), actorFrom(c).ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Notifications marked as read", "updated": n})
	}
}
