// Package activity approximates the server's inactivity clock. The client
// never knows the exact remaining time, only the inactivity window learned
// from heartbeat acks and its own last-observed activity instant, so the
// countdown it derives is advisory. Closure is confirmed elsewhere.
package activity

import (
	"sync"
	"time"
)

const (
	// DefaultServerTimeout is assumed until the first heartbeat ack
	// teaches the authoritative window.
	DefaultServerTimeout = 15 * time.Minute

	// DefaultWarningWindow is how long the countdown runs before the
	// estimated server threshold elapses.
	DefaultWarningWindow = 10 * time.Second
)

type State int

const (
	Idle State = iota
	Warning
)

func (s State) String() string {
	if s == Warning {
		return "warning"
	}
	return "idle"
}

// Status is the renderable countdown view derived on each tick.
type Status struct {
	CountdownActive  bool
	SecondsRemaining int
}

// Tracker is the Idle/Warning state machine. It holds no timers of its
// own: the session drives it with Tick so that an activity reset always
// lands before the next armed tick.
type Tracker struct {
	mx sync.Mutex

	serverTimeout time.Duration
	warningWindow time.Duration

	lastActivity time.Time
	state        State
	warnDeadline time.Time
}

// NewTracker starts Idle with activity recorded at now.
func NewTracker(now time.Time, serverTimeout, warningWindow time.Duration) *Tracker {
	if serverTimeout <= 0 {
		serverTimeout = DefaultServerTimeout
	}
	if warningWindow <= 0 {
		warningWindow = DefaultWarningWindow
	}
	return &Tracker{
		serverTimeout: serverTimeout,
		warningWindow: warningWindow,
		lastActivity:  now,
	}
}

// Touch records confirmed activity: an outbound send, a keystroke
// heartbeat, or any server broadcast proving the room is alive. It
// discards an in-flight countdown; the next one restarts from the
// full warning window.
func (t *Tracker) Touch(now time.Time) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.lastActivity = now
	t.state = Idle
	t.warnDeadline = time.Time{}
}

// Ack records a heartbeat acknowledgement: the server's activity clock
// plus the authoritative inactivity window. The ack moves the clock but
// is not itself confirmed activity, so it never cancels a countdown.
func (t *Tracker) Ack(serverTime time.Time, inactivityTimeout time.Duration) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.lastActivity = serverTime
	if inactivityTimeout > 0 {
		t.serverTimeout = inactivityTimeout
	}
}

// Tick advances the state machine and returns the countdown view.
func (t *Tracker) Tick(now time.Time) Status {
	t.mx.Lock()
	defer t.mx.Unlock()

	switch t.state {
	case Idle:
		if now.Sub(t.lastActivity) >= t.serverTimeout-t.warningWindow {
			t.state = Warning
			t.warnDeadline = now.Add(t.warningWindow)
		}
	case Warning:
		if !now.Before(t.warnDeadline) {
			// advisory countdown ran out; the room is only closed by
			// the server, so fall back to Idle and let the next tick
			// re-arm a fresh countdown
			t.state = Idle
			t.warnDeadline = time.Time{}
		}
	}

	if t.state != Warning {
		return Status{}
	}
	remaining := t.warnDeadline.Sub(now)
	secs := int((remaining + time.Second - 1) / time.Second)
	return Status{CountdownActive: true, SecondsRemaining: secs}
}

func (t *Tracker) State() State {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.state
}

// ServerTimeout returns the currently assumed inactivity window.
func (t *Tracker) ServerTimeout() time.Duration {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.serverTimeout
}

// LastActivity returns the most recent confirmed activity instant.
func (t *Tracker) LastActivity() time.Time {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.lastActivity
}
