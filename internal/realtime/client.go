package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	handlerTimeout = 5 * time.Second
)

// Client is one live websocket connection of an authenticated user
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	user        domain.UserSummary
	send        chan []byte
	connectedAt time.Time
}

// readPump dispatches client events until the connection fails, then runs the
// disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithFields(logrus.Fields{"user_id": c.user.ID, "error": err.Error()}).Debug("Websocket read failed")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.sendTo(c, EventError, map[string]string{"message": "malformed event"})
			continue
		}
		c.hub.markActive(c)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		c.handle(ctx, env)
		cancel()
	}
}

// writePump serialises writes to the connection and keeps it alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, env Envelope) {
	h := c.hub
	log := h.log.WithFields(logrus.Fields{"user_id": c.user.ID, "event": env.Event})

	switch env.Event {
	case EventViewing:
		txID, err := parseID(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		room := transactionRoom(txID)
		h.joinRoom(c, room)
		h.emitToRoom(room, c, EventUserViewing, ViewingEvent{TransactionID: txID, User: refOf(c.user)})
		if err := h.cache.Set(ctx, ViewingKey(txID, c.user.ID), c.user.Name, viewingMarkerTTL); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to write viewing marker")
		}

	case EventStopViewing:
		txID, err := parseID(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		if err := h.cache.Delete(ctx, ViewingKey(txID, c.user.ID)); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to clear viewing marker")
		}
		room := transactionRoom(txID)
		h.leaveRoom(c, room)
		h.emitToRoom(room, c, EventUserLeft, LeftEvent{TransactionID: txID, UserID: c.user.ID})

	case EventTyping:
		txID, err := parseID(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		h.emitToRoom(transactionRoom(txID), c, EventUserTyping, TypingEvent{
			TransactionID: txID,
			User:          refOf(c.user),
			Timestamp:     h.now(),
		})

	case EventReadOne:
		id, err := parseID(env.Data)
		if err != nil {
			c.reject(env.Event, err)
			return
		}
		// scoped to the connection's user; someone else's id is silently ignored
		if err := h.store.MarkNotificationRead(ctx, c.user.ID, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithField("error", err.Error()).Error("Failed to acknowledge notification")
		}

	case EventReadAll:
		if _, err := h.store.MarkAllNotificationsRead(ctx, c.user.ID); err != nil {
			log.WithField("error", err.Error()).Error("Failed to acknowledge notifications")
		}

	default:
		log.Debug("Ignoring unknown event")
	}
}

func (c *Client) reject(event string, err error) {
	c.hub.sendTo(c, EventError, map[string]string{"event": event, "message": err.Error()})
}
