// Package realtime is the websocket session hub: authenticated connections, presence,
// room-scoped events and delivery of queued notifications on connect.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"finance_tracker/internal/domain"
	"finance_tracker/internal/metrics"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Presence is one entry of the presence table. ConnectionID is the user's newest live
// connection; Connections counts all of them.
type Presence struct {
	User         domain.UserSummary `json:"user"`
	ConnectionID string             `json:"connectionId"`
	Connections  int                `json:"connections"`
	ConnectedAt  time.Time          `json:"connectedAt"`
	LastActive   time.Time          `json:"lastActive"`
}

// Config configures a Hub
type Config struct {
	Store     *store.Store
	Cache     *utils.Cache
	JWTSecret string
	Logger    logrus.FieldLogger
	// AllowedOrigin restricts the websocket Origin header; empty allows any origin.
	AllowedOrigin string
	// SendBuffer is the per-client queue length before messages are dropped.
	SendBuffer int
	Now        func() time.Time
}

type roomOp struct {
	client *Client
	room   string
	join   bool
}

type roomEmit struct {
	room   string
	except *Client
	msg    []byte
}

// leaveReq unregisters a client; last reports whether it was the user's final connection
type leaveReq struct {
	client *Client
	last   chan bool
}

type directMsg struct {
	client *Client
	msg    []byte
}

// Hub owns the presence table and room membership. Both are only touched by the Run
// goroutine; everything else talks to it over channels.
type Hub struct {
	store      *store.Store
	cache      *utils.Cache
	secret     string
	log        logrus.FieldLogger
	upgrader   websocket.Upgrader
	sendBuffer int
	now        func() time.Time

	register   chan *Client
	unregister chan leaveReq
	broadcast  chan []byte
	rooms      chan roomOp
	emit       chan roomEmit
	direct     chan directMsg
	touch      chan *Client
	snapshot   chan chan []Presence
	done       chan struct{}

	// loop state
	clients     map[*Client]struct{}
	presence    map[uint]*Presence
	members     map[string]map[*Client]struct{}
	clientRooms map[*Client]map[string]struct{}
}

// NewHub creates a hub; call Run to start its event loop
func NewHub(cfg Config) *Hub {
	h := &Hub{
		store:      cfg.Store,
		cache:      cfg.Cache,
		secret:     cfg.JWTSecret,
		log:        cfg.Logger,
		sendBuffer: cfg.SendBuffer,
		now:        cfg.Now,

		register:   make(chan *Client),
		unregister: make(chan leaveReq),
		broadcast:  make(chan []byte, 256),
		rooms:      make(chan roomOp),
		emit:       make(chan roomEmit, 64),
		direct:     make(chan directMsg, 64),
		touch:      make(chan *Client, 64),
		snapshot:   make(chan chan []Presence),
		done:       make(chan struct{}),

		clients:     make(map[*Client]struct{}),
		presence:    make(map[uint]*Presence),
		members:     make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 256
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}
	return h
}

// Run processes hub events until ctx is cancelled, then closes every connection
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.add(c)
		case req := <-h.unregister:
			req.last <- h.remove(req.client)
		case msg := <-h.broadcast:
			for c := range h.clients {
				h.deliver(c, msg)
			}
		case op := <-h.rooms:
			if op.join {
				h.join(op.client, op.room)
			} else {
				h.leave(op.client, op.room)
			}
		case e := <-h.emit:
			for c := range h.members[e.room] {
				if c != e.except {
					h.deliver(c, e.msg)
				}
			}
		case d := <-h.direct:
			if _, ok := h.clients[d.client]; ok {
				h.deliver(d.client, d.msg)
			}
		case c := <-h.touch:
			if _, live := h.clients[c]; live {
				if p, ok := h.presence[c.user.ID]; ok {
					p.LastActive = h.now()
				}
			}
		case reply := <-h.snapshot:
			out := make([]Presence, 0, len(h.presence))
			for _, p := range h.presence {
				out = append(out, *p)
			}
			reply <- out
		}
	}
}

// Broadcast sends an event to every connected client. It never blocks on slow clients
// and is a no-op once the hub has stopped.
func (h *Hub) Broadcast(event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		h.log.WithFields(logrus.Fields{"event": event, "error": err.Error()}).Error("Failed to encode broadcast")
		return
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Online returns a snapshot of the presence table
func (h *Hub) Online() []Presence {
	reply := make(chan []Presence, 1)
	select {
	case h.snapshot <- reply:
		return <-reply
	case <-h.done:
		return nil
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c] = struct{}{}
	metrics.ConnectedClients.Inc()
	h.join(c, userRoom(c.user.ID))

	if p, ok := h.presence[c.user.ID]; ok {
		// another tab of a user already online
		p.ConnectionID = c.id
		p.ConnectedAt = c.connectedAt
		p.LastActive = c.connectedAt
		p.Connections++
		return
	}
	h.presence[c.user.ID] = &Presence{
		User:         c.user,
		ConnectionID: c.id,
		Connections:  1,
		ConnectedAt:  c.connectedAt,
		LastActive:   c.connectedAt,
	}
	if msg, err := encode(EventUserOnline, PresenceEvent{UserID: c.user.ID, UserName: c.user.Name, Timestamp: h.now()}); err == nil {
		for peer := range h.clients {
			h.deliver(peer, msg)
		}
	}
}

// remove forgets c and reports whether its user has no live connection left. Only then
// is the user announced offline.
func (h *Hub) remove(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	h.drop(c)

	p, ok := h.presence[c.user.ID]
	if !ok {
		return true
	}
	if p.Connections--; p.Connections > 0 {
		if p.ConnectionID == c.id {
			for peer := range h.clients {
				if peer.user.ID == c.user.ID {
					p.ConnectionID, p.ConnectedAt = peer.id, peer.connectedAt
					break
				}
			}
		}
		return false
	}
	delete(h.presence, c.user.ID)
	if msg, err := encode(EventUserOffline, PresenceEvent{UserID: c.user.ID, Timestamp: h.now()}); err == nil {
		for peer := range h.clients {
			h.deliver(peer, msg)
		}
	}
	return true
}

// drop forgets c and closes its send queue, which ends its write pump
func (h *Hub) drop(c *Client) {
	for room := range h.clientRooms[c] {
		h.leave(c, room)
	}
	delete(h.clientRooms, c)
	delete(h.clients, c)
	close(c.send)
	metrics.ConnectedClients.Dec()
}

func (h *Hub) join(c *Client, room string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.members[room] == nil {
		h.members[room] = make(map[*Client]struct{})
	}
	h.members[room][c] = struct{}{}
	if h.clientRooms[c] == nil {
		h.clientRooms[c] = make(map[string]struct{})
	}
	h.clientRooms[c][room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	if m, ok := h.members[room]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.members, room)
		}
	}
	delete(h.clientRooms[c], room)
}

func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		metrics.DroppedMessages.Inc()
		h.log.WithFields(logrus.Fields{"user_id": c.user.ID, "connection_id": c.id}).Warn("Client send buffer full, message dropped")
	}
}

// channel helpers used by client goroutines

func (h *Hub) joinRoom(c *Client, room string) {
	select {
	case h.rooms <- roomOp{client: c, room: room, join: true}:
	case <-h.done:
	}
}

func (h *Hub) leaveRoom(c *Client, room string) {
	select {
	case h.rooms <- roomOp{client: c, room: room}:
	case <-h.done:
	}
}

func (h *Hub) emitToRoom(room string, except *Client, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	select {
	case h.emit <- roomEmit{room: room, except: except, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) sendTo(c *Client, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	select {
	case h.direct <- directMsg{client: c, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) markActive(c *Client) {
	select {
	case h.touch <- c:
	case <-h.done:
	}
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}
