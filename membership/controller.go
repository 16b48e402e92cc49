// Package membership negotiates room membership: it issues the join
// intent, consumes roster updates and records the terminal closure.
// The server is the single source of truth for roster composition;
// every roster event replaces the set wholesale.
package membership

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/x33x-chat/client/model"
)

var (
	ErrJoinAlreadySent = errors.New("join intent already sent")
	ErrRoomClosed      = errors.New("room is closed")
	ErrJoinEvent       = errors.New("unable to build join event")
)

type Config struct {
	Logger   *zerolog.Logger
	RoomCode string
	Username string
}

// Controller tracks membership for a single session.
type Controller struct {
	logger   zerolog.Logger
	roomCode string
	username string

	mx          sync.Mutex
	joinSent    bool
	established bool
	roster      []model.User
	closed      bool
	reason      model.CloseReason
}

func New(cfg Config) *Controller {
	return &Controller{
		logger: cfg.Logger.With().
			Str("component", "membership").
			Str("roomCode", cfg.RoomCode).
			Logger(),
		roomCode: cfg.RoomCode,
		username: cfg.Username,
	}
}

// JoinIntent returns the join event exactly once. Subsequent calls (a
// duplicate connect within the same session) report ErrJoinAlreadySent,
// and a closed session reports ErrRoomClosed.
func (c *Controller) JoinIntent() (model.Event, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return model.Event{}, ErrRoomClosed
	}
	if c.joinSent {
		return model.Event{}, ErrJoinAlreadySent
	}

	ev, err := model.NewEvent(model.EventJoinRoom, model.JoinRoomPayload{
		RoomCode: c.roomCode,
		Username: c.username,
	})
	if err != nil {
		return model.Event{}, errors.Join(ErrJoinEvent, err)
	}
	c.joinSent = true
	c.logger.Debug().Str("username", c.username).Msg("join intent issued")
	return ev, nil
}

// HandleRoomJoined replaces the roster and marks the session established.
func (c *Controller) HandleRoomJoined(users []model.User) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return
	}
	c.established = true
	c.roster = append(c.roster[:0], users...)
	c.logger.Debug().Int("users", len(users)).Msg("room joined")
}

// HandleRoster replaces the roster on user-joined / user-left.
func (c *Controller) HandleRoster(users []model.User) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return
	}
	c.roster = append(c.roster[:0], users...)
	c.logger.Debug().Int("users", len(users)).Msg("roster replaced")
}

// HandleClosed records the terminal close reason. Only the first closure
// sticks; later ones report the recorded reason.
func (c *Controller) HandleClosed(reason string) model.CloseReason {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return c.reason
	}
	c.closed = true
	c.reason = model.ParseCloseReason(reason)
	c.logger.Info().Str("reason", string(c.reason)).Msg("room closed")
	return c.reason
}

// RoomAbsent synthesizes a not-found closure from the polling fallback.
// Reports true only if this call is the one that closed the session.
func (c *Controller) RoomAbsent() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.reason = model.ReasonRoomNotFound
	c.logger.Info().Msg("room absent, session closed locally")
	return true
}

// Closed reports the terminal reason, if any.
func (c *Controller) Closed() (model.CloseReason, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.reason, c.closed
}

// Established reports whether room-joined has been received.
func (c *Controller) Established() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.established
}

// CanSend reports whether outbound intents are still meaningful.
func (c *Controller) CanSend() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.established && !c.closed
}

// Roster returns the display-ordered roster copy: hosts first, relative
// order otherwise preserved from the server snapshot.
func (c *Controller) Roster() []model.User {
	c.mx.Lock()
	out := make([]model.User, len(c.roster))
	copy(out, c.roster)
	c.mx.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsHost && !out[j].IsHost
	})
	return out
}

func (c *Controller) RoomCode() string {
	return c.roomCode
}
