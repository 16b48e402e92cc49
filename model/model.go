package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event names pushed by the server.
const (
	EventRoomCreated  = "room-created"
	EventRoomJoined   = "room-joined"
	EventRoomHistory  = "room-history"
	EventNewMessage   = "new-message"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventRoomClosed   = "room-closed"
	EventHeartbeatAck = "heartbeat-ack"
	EventError        = "error"
)

// Event names emitted by the client.
const (
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventCloseRoom   = "close-room"
	EventHeartbeat   = "heartbeat"
)

const (
	// MaxMessageLen is the server-enforced message size, checked client-side as well.
	MaxMessageLen = 500

	roomCodeLen    = 6
	maxUsernameLen = 16
)

var (
	ErrInvalidRoomCode = errors.New("room code must be 6 alphanumeric characters")
	ErrInvalidUsername = errors.New("username must be 1-16 alphanumeric characters")
)

// Event is a single named frame on the wire, both directions.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into a named event frame.
func NewEvent(name string, payload any) (Event, error) {
	ev := Event{Name: name}
	if payload == nil {
		return ev, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = b
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (ev Event) Decode(v any) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(ev.Payload, v)
}

type User struct {
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// Message is a chat message as broadcast by the server. Sender identity
// is a snapshot taken at send time, never re-resolved against the roster.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsHost    bool      `json:"isHost"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type CreateRoomPayload struct {
	Username string `json:"username"`
}

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type SendMessagePayload struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}

type CloseRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type RoomCreatedPayload struct {
	RoomCode string `json:"roomCode"`
}

// RosterPayload carries the full participant set. The server sends it on
// room-joined, user-joined and user-left, always as a complete replacement.
type RosterPayload struct {
	Users []User `json:"users"`
}

type RoomHistoryPayload struct {
	Messages []Message `json:"messages"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// HeartbeatAckPayload carries the server's activity clock and the
// authoritative inactivity window, both in milliseconds.
type HeartbeatAckPayload struct {
	Timestamp         int64 `json:"timestamp"`
	InactivityTimeout int64 `json:"inactivityTimeout"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// CloseReason classifies why a room session ended.
type CloseReason string

const (
	ReasonInactivity   CloseReason = "inactivity"
	ReasonHostClosed   CloseReason = "host-closed"
	ReasonRoomNotFound CloseReason = "not-found"
	ReasonUnknown      CloseReason = "unknown"
)

// ParseCloseReason maps a server-provided reason string to a CloseReason,
// defaulting to ReasonUnknown for anything unrecognized or absent.
func ParseCloseReason(s string) CloseReason {
	switch CloseReason(s) {
	case ReasonInactivity, ReasonHostClosed, ReasonRoomNotFound:
		return CloseReason(s)
	}
	return ReasonUnknown
}

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (cs ConnState) String() string {
	switch cs {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Wire is the in-process channel pair between the websocket connector and
// the session. RX carries server events, TX carries client events.
type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}

// NormalizeRoomCode uppercases and validates a room code.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != roomCodeLen || !alphanumeric(code) {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}

// ValidateUsername checks the 1-16 alphanumeric constraint.
func ValidateUsername(name string) error {
	name = strings.TrimSpace(name)
	if len(name) < 1 || len(name) > maxUsernameLen || !alphanumeric(name) {
		return ErrInvalidUsername
	}
	return nil
}

func alphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
