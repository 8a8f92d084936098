package realtime

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"finance_tracker/internal/domain"
)

// Server to client events
const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
	EventUnread      = "notifications:unread"
	EventUserViewing = "transaction:user-viewing"
	EventUserLeft    = "transaction:user-left"
	EventUserTyping  = "transaction:user-typing"
	EventError       = "error"
)

// UnreadDeliveryLimit bounds the notifications pushed on connect
const UnreadDeliveryLimit = 20

const (
	viewingMarkerTTL = 60 * time.Second
	userCacheTTL     = time.Hour
)

// Client to server events
const (
	EventViewing     = "transaction:viewing"
	EventStopViewing = "transaction:stop-viewing"
	EventTyping      = "transaction:typing"
	EventReadOne     = "notification:read"
	EventReadAll     = "notifications:read-all"
)

// Envelope is the wire frame in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// UserRef identifies a user inside room events
type UserRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func refOf(u domain.UserSummary) UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}

// PresenceEvent is the payload of user:online and user:offline
type PresenceEvent struct {
	UserID    uint      `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ViewingEvent is the payload of transaction:user-viewing
type ViewingEvent struct {
	TransactionID uint    `json:"transactionId"`
	User          UserRef `json:"user"`
}

// LeftEvent is the payload of transaction:user-left
type LeftEvent struct {
	TransactionID uint `json:"transactionId"`
	UserID        uint `json:"userId"`
}

// TypingEvent is the payload of transaction:user-typing
type TypingEvent struct {
	TransactionID uint      `json:"transactionId"`
	User          UserRef   `json:"user"`
	Timestamp     time.Time `json:"timestamp"`
}

var errBadID = errors.New("expected a positive numeric id")

// parseID accepts 12, "12", {"transactionId":12} or {"notificationId":12}
func parseID(raw json.RawMessage) (uint, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return 0, errBadID
	}
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, err
		}
		for _, k := range []string{"transactionId", "notificationId", "id"} {
			if v, ok := obj[k]; ok {
				return parseID(v)
			}
		}
		return 0, errBadID
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n == 0 {
			return 0, errBadID
		}
		return uint(n), nil
	default:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil || n == 0 {
			return 0, errBadID
		}
		return uint(n), nil
	}
}

func transactionRoom(id uint) string {
	return "transaction:" + strconv.FormatUint(uint64(id), 10)
}

func userRoom(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}

// ViewingKey is the cache key marking user as viewing a transaction
func ViewingKey(txID, userID uint) string {
	return "viewing:" + strconv.FormatUint(uint64(txID), 10) + ":" + strconv.FormatUint(uint64(userID), 10)
}

// viewingPattern matches every viewing marker owned by a user
func viewingPattern(userID uint) string {
	return "viewing:*:" + strconv.FormatUint(uint64(userID), 10)
}

func userCacheKey(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}
