// Package session composes the connector, membership controller,
// activity tracker and message stream into one room session. A single
// event-loop goroutine owns the channel handle and every timer; intents
// and timer ticks are multiplexed through it, so component state only
// ever has one writer.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/x33x-chat/client/activity"
	"github.com/x33x-chat/client/connector"
	"github.com/x33x-chat/client/membership"
	"github.com/x33x-chat/client/model"
	"github.com/x33x-chat/client/roomapi"
	"github.com/x33x-chat/client/stream"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPollInterval      = 30 * time.Second
	defaultCheckInterval     = time.Second
	defaultUpdateBuffer      = 64

	// how long the loop waits for the connector to accept an outbound
	// event before treating the channel as dead
	defaultSendTimeout = time.Second
)

var (
	ErrNotHost        = errors.New("only the host can close the room")
	ErrSessionEnded   = errors.New("session has ended")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

type Config struct {
	Logger     *zerolog.Logger
	ServerAddr string // websocket endpoint
	APIAddr    string // http endpoint for the polling fallback

	RoomCode string
	Username string
	IsHost   bool

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	CheckInterval     time.Duration
	WarningWindow     time.Duration
	ServerTimeout     time.Duration
	UpdateBuffer      int

	Connector connector.Config
}

func (cfg Config) withDefaults() Config {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	return cfg
}

type UpdateKind int

const (
	UpdateConnState UpdateKind = iota
	UpdateRoster
	UpdateHistory
	UpdateMessage
	UpdateCountdown
	UpdateClosed
	UpdateError
)

// Update is the session's outward-facing render signal. Exactly one
// field besides Kind is meaningful per kind.
type Update struct {
	Kind      UpdateKind
	ConnState model.ConnState
	Roster    []model.User
	Message   model.Message
	Countdown activity.Status
	Reason    model.CloseReason
	Err       error
}

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdTouch
	cmdClose
)

type command struct {
	kind cmdKind
	text string
}

type pollResult struct {
	exists bool
	err    error
}

// Session is one room membership for one lifetime of a chat view.
type Session struct {
	id       string
	cfg      Config
	logger   zerolog.Logger
	username string
	isHost   bool

	members *membership.Controller
	tracker *activity.Tracker
	stream  *stream.Manager
	api     *roomapi.Client

	conn     *connector.Conn
	updates  chan Update
	commands chan command
	pollc    chan pollResult
	done     chan struct{}
	cancel   context.CancelFunc

	mx        sync.RWMutex
	connState model.ConnState
	countdown activity.Status
}

// New validates identity inputs and assembles a session. Nothing is
// dialed until Run.
func New(cfg Config) (*Session, error) {
	code, err := model.NormalizeRoomCode(cfg.RoomCode)
	if err != nil {
		return nil, err
	}
	if err = model.ValidateUsername(cfg.Username); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	cfg.RoomCode = code

	id := uuid.NewString()
	logger := cfg.Logger.With().
		Str("component", "session").
		Str("sessionID", id).
		Str("roomCode", code).
		Logger()

	return &Session{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		username: strings.TrimSpace(cfg.Username),
		isHost:   cfg.IsHost,
		members: membership.New(membership.Config{
			Logger:   &logger,
			RoomCode: code,
			Username: strings.TrimSpace(cfg.Username),
		}),
		stream:   stream.New(),
		api:      roomapi.New(cfg.APIAddr, &logger),
		updates:  make(chan Update, cfg.UpdateBuffer),
		commands: make(chan command),
		pollc:    make(chan pollResult, 1),
		done:     make(chan struct{}),
	}, nil
}

// Updates is the render feed. The loop never blocks on it: when the
// consumer lags past the buffer, updates are dropped.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run establishes the channel, joins the room and services the session
// until closure, Leave or ctx cancellation. All timers are owned here
// and cancelled on every return path.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.setConnState(model.Connecting)

	conn, err := connector.Open(ctx, s.cfg.ServerAddr, s.cfg.Connector)
	if err != nil {
		s.setConnState(model.Disconnected)
		s.logger.Error().Err(err).Msg("unable to open channel")
		return err
	}
	s.conn = conn
	defer conn.Close()
	s.setConnState(model.Connected)

	s.tracker = activity.NewTracker(time.Now(), s.cfg.ServerTimeout, s.cfg.WarningWindow)

	if err = s.join(); err != nil {
		return err
	}

	// existence check on mount, then on the poll cadence
	go s.poll(ctx)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	check := time.NewTicker(s.cfg.CheckInterval)
	poll := time.NewTicker(s.cfg.PollInterval)
	defer func() {
		heartbeat.Stop()
		check.Stop()
		poll.Stop()
	}()

	wire := conn.Wire()
	connDone := conn.Done()

	s.logger.Info().Str("username", s.username).Bool("isHost", s.isHost).Msg("session started")

EventLoop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("session cancelled")
			break EventLoop

		case ev := <-wire.RX:
			if !s.handleEvent(ev) {
				break EventLoop
			}

		case <-connDone:
			// channel died without a room-closed event; surface the
			// disconnect and keep polling, which is the remaining path
			// that can still confirm room absence
			connDone = nil
			s.setConnState(model.Disconnected)
			termErr := conn.Err()
			if termErr == nil {
				termErr = connector.ErrRemoteClosed
			}
			s.logger.Warn().Err(termErr).Msg("channel lost")
			s.emit(Update{Kind: UpdateError, Err: termErr})
			heartbeat.Stop()

		case <-heartbeat.C:
			s.emitHeartbeat(false)

		case <-check.C:
			s.tickCountdown()

		case <-poll.C:
			go s.poll(ctx)

		case res := <-s.pollc:
			if res.err != nil {
				s.logger.Debug().Err(res.err).Msg("existence poll failed")
				continue
			}
			if !res.exists && s.members.RoomAbsent() {
				s.terminate(model.ReasonRoomNotFound)
				break EventLoop
			}

		case cmd := <-s.commands:
			if !s.handleCommand(cmd) {
				break EventLoop
			}
		}
	}

	s.setConnState(model.Disconnected)
	s.logger.Info().Msg("session ended")
	return nil
}

// SendMessage queues an outbound message. Empty input is silently
// dropped; oversize input is rejected before it is ever sent.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) > model.MaxMessageLen {
		return ErrMessageTooLong
	}
	return s.command(command{kind: cmdSend, text: text})
}

// TouchInput records a keystroke in the input: it opportunistically
// emits a heartbeat and counts as confirmed local activity.
func (s *Session) TouchInput() {
	_ = s.command(command{kind: cmdTouch})
}

// RequestClose asks the server to close the room. Host only. No local
// state changes: the closure is observed via the room-closed event.
func (s *Session) RequestClose() error {
	if !s.isHost {
		return ErrNotHost
	}
	return s.command(command{kind: cmdClose})
}

// Leave tears the session down and waits for the loop to exit. The
// server learns about it through the implicit disconnect only.
func (s *Session) Leave() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Session) command(cmd command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrSessionEnded
	}
}

// Snapshot returns a render-ready copy of the session state.
type Snapshot struct {
	RoomCode  string
	ConnState model.ConnState
	Roster    []model.User
	Messages  []model.Message
	Groups    []stream.Group
	Countdown activity.Status
	Closed    bool
	Reason    model.CloseReason
}

func (s *Session) Snapshot() Snapshot {
	s.mx.RLock()
	connState := s.connState
	countdown := s.countdown
	s.mx.RUnlock()

	reason, closed := s.members.Closed()
	return Snapshot{
		RoomCode:  s.cfg.RoomCode,
		ConnState: connState,
		Roster:    s.members.Roster(),
		Messages:  s.stream.Messages(),
		Groups:    s.stream.Grouped(),
		Countdown: countdown,
		Closed:    closed,
		Reason:    reason,
	}
}

func (s *Session) handleEvent(ev model.Event) bool {
	switch ev.Name {
	case model.EventRoomJoined:
		var payload model.RosterPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Error().Err(err).Msg("malformed room-joined payload")
			return true
		}
		s.members.HandleRoomJoined(payload.Users)
		s.touch()
		s.emit(Update{Kind: UpdateRoster, Roster: s.members.Roster()})

	case model.EventRoomHistory:
		var payload model.RoomHistoryPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Error().Err(err).Msg("malformed room-history payload")
			return true
		}
		if err := s.stream.ReplaceHistory(payload.Messages); err != nil {
			s.logger.Warn().Err(err).Msg("history rejected")
			return true
		}
		s.emit(Update{Kind: UpdateHistory})

	case model.EventNewMessage:
		var msg model.Message
		if err := ev.Decode(&msg); err != nil {
			s.logger.Error().Err(err).Msg("malformed new-message payload")
			return true
		}
		if s.stream.Append(msg) {
			s.touch()
			s.emit(Update{Kind: UpdateMessage, Message: msg})
		}

	case model.EventUserJoined, model.EventUserLeft:
		var payload model.RosterPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Error().Err(err).Msg("malformed roster payload")
			return true
		}
		s.members.HandleRoster(payload.Users)
		s.touch()
		s.emit(Update{Kind: UpdateRoster, Roster: s.members.Roster()})

	case model.EventHeartbeatAck:
		var payload model.HeartbeatAckPayload
		if err := ev.Decode(&payload); err != nil {
			s.logger.Error().Err(err).Msg("malformed heartbeat-ack payload")
			return true
		}
		s.tracker.Ack(
			time.UnixMilli(payload.Timestamp),
			time.Duration(payload.InactivityTimeout)*time.Millisecond,
		)
		s.logger.Trace().
			Int64("timestamp", payload.Timestamp).
			Int64("inactivityTimeout", payload.InactivityTimeout).
			Msg("heartbeat acked")

	case model.EventRoomClosed:
		var payload model.RoomClosedPayload
		_ = ev.Decode(&payload)
		reason := s.members.HandleClosed(payload.Reason)
		s.terminate(reason)
		return false

	case model.EventError:
		var payload model.ErrorPayload
		_ = ev.Decode(&payload)
		s.logger.Warn().Str("message", payload.Message).Msg("server error event")
		s.emit(Update{Kind: UpdateError, Err: errors.New(payload.Message)})

	default:
		s.logger.Debug().Str("event", ev.Name).Msg("ignoring unknown event")
	}
	return true
}

func (s *Session) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdSend:
		if !s.members.CanSend() || !s.conn.IsOpen() {
			s.logger.Debug().Msg("dropping send, session not ready")
			return true
		}
		ev, err := model.NewEvent(model.EventSendMessage, model.SendMessagePayload{
			RoomCode: s.cfg.RoomCode,
			Message:  cmd.text,
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("unable to build send-message event")
			return true
		}
		// the message itself only shows up once the server echoes it back
		s.send(ev)
		s.emitHeartbeat(true)

	case cmdTouch:
		s.emitHeartbeat(true)

	case cmdClose:
		if !s.members.CanSend() || !s.conn.IsOpen() {
			s.logger.Debug().Msg("dropping close, session not ready")
			return true
		}
		ev, err := model.NewEvent(model.EventCloseRoom, model.CloseRoomPayload{
			RoomCode: s.cfg.RoomCode,
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("unable to build close-room event")
			return true
		}
		// no optimistic transition, the room-closed event decides
		s.send(ev)
	}
	return true
}

func (s *Session) join() error {
	ev, err := s.members.JoinIntent()
	if err != nil {
		if errors.Is(err, membership.ErrJoinAlreadySent) {
			return nil
		}
		return err
	}
	s.send(ev)
	return nil
}

// emitHeartbeat sends a heartbeat intent. Only user-triggered emissions
// (send, keystroke) count as confirmed local activity; the periodic
// cadence keeps the channel warm without moving the activity clock.
func (s *Session) emitHeartbeat(userActivity bool) {
	if userActivity {
		s.touch()
	}
	if !s.members.CanSend() || s.conn == nil || !s.conn.IsOpen() {
		return
	}
	ev, err := model.NewEvent(model.EventHeartbeat, struct{}{})
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to build heartbeat event")
		return
	}
	s.send(ev)
}

func (s *Session) send(ev model.Event) {
	t := time.NewTimer(defaultSendTimeout)
	defer t.Stop()
	select {
	case s.conn.Wire().TX <- ev:
		s.logger.Trace().Str("event", ev.Name).Msg("intent queued")
	case <-s.conn.Done():
		s.logger.Debug().Str("event", ev.Name).Msg("intent dropped, channel gone")
	case <-t.C:
		s.logger.Error().Str("event", ev.Name).Msg("intent dropped, channel stalled")
	}
}

func (s *Session) touch() {
	s.tracker.Touch(time.Now())
	s.tickCountdown()
}

func (s *Session) tickCountdown() {
	status := s.tracker.Tick(time.Now())

	s.mx.Lock()
	changed := status != s.countdown
	s.countdown = status
	s.mx.Unlock()

	if changed {
		s.emit(Update{Kind: UpdateCountdown, Countdown: status})
	}
}

func (s *Session) poll(ctx context.Context) {
	exists, err := s.api.RoomExists(ctx, s.cfg.RoomCode)
	select {
	case s.pollc <- pollResult{exists: exists, err: err}:
	case <-ctx.Done():
	}
}

func (s *Session) terminate(reason model.CloseReason) {
	s.logger.Info().Str("reason", string(reason)).Msg("session terminal")
	s.emit(Update{Kind: UpdateClosed, Reason: reason})
}

func (s *Session) setConnState(state model.ConnState) {
	s.mx.Lock()
	changed := s.connState != state
	s.connState = state
	s.mx.Unlock()
	if changed {
		s.emit(Update{Kind: UpdateConnState, ConnState: state})
	}
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn().Int("kind", int(u.Kind)).Msg("update dropped, consumer lagging")
	}
}
