package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated is returned for a missing or invalid credential
var ErrUnauthenticated = errors.New("authentication required")

// ServeWS authenticates the request and upgrades it to a realtime session. Requests
// without a valid credential are refused before the upgrade and leave no state behind.
func (h *Hub) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	user, err := h.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote an HTTP error
		h.log.WithFields(logrus.Fields{"user_id": user.ID, "error": err.Error()}).Warn("Websocket upgrade failed")
		return
	}
	client := &Client{
		id:          uuid.NewString(),
		hub:         h,
		conn:        conn,
		user:        user,
		send:        make(chan []byte, h.sendBuffer),
		connectedAt: h.now(),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.log.WithFields(logrus.Fields{"user_id": user.ID, "connection_id": client.id}).Info("User connected")

	go client.writePump()
	h.deliverUnread(client)
	go client.readPump()
}

// Authenticate verifies a token and resolves its user from the cache or the store
func (h *Hub) Authenticate(ctx context.Context, token string) (domain.UserSummary, error) {
	claims, err := utils.ParseJWT(token, h.secret)
	if err != nil {
		return domain.UserSummary{}, ErrUnauthenticated
	}
	key := userCacheKey(claims.UserID)
	var user domain.UserSummary
	if found, err := h.cache.Get(ctx, key, &user); err == nil && found {
		return user, nil
	} else if err != nil {
		h.log.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Cache operation failed")
	}
	user, err = h.store.ResolveUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserSummary{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.UserSummary{}, err
	}
	if err := h.cache.Set(ctx, key, user, userCacheTTL); err != nil {
		h.log.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Cache operation failed")
	}
	return user, nil
}

func (h *Hub) deliverUnread(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	ns, err := h.store.ListNotifications(ctx, c.user.ID, true, UnreadDeliveryLimit)
	if err != nil {
		h.log.WithFields(logrus.Fields{"user_id": c.user.ID, "error": err.Error()}).Error("Failed to load unread notifications")
		return
	}
	if len(ns) > 0 {
		h.sendTo(c, EventUnread, ns)
	}
}

// disconnect unregisters c. When it was the user's last connection every viewing marker
// the user owns is purged; markers of a still-open tab are left alone.
func (h *Hub) disconnect(c *Client) {
	req := leaveReq{client: c, last: make(chan bool, 1)}
	last := true
	select {
	case h.unregister <- req:
		last = <-req.last
	case <-h.done:
	}
	h.log.WithFields(logrus.Fields{"user_id": c.user.ID, "connection_id": c.id, "last": last}).Info("User disconnected")
	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if _, err := h.cache.DeletePattern(ctx, viewingPattern(c.user.ID)); err != nil {
		h.log.WithFields(logrus.Fields{"user_id": c.user.ID, "error": err.Error()}).Warn("Failed to purge viewing markers")
	}
}
