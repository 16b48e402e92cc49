// Package stream accumulates the room's message list in arrival order
// and derives the visual grouping used for rendering.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/x33x-chat/client/model"
)

// groupGap is the largest gap between two messages of the same sender
// that still renders as one group.
const groupGap = 5 * time.Minute

var (
	ErrHistoryAfterLive = errors.New("history can only be set before live messages")
	ErrHistoryReplayed  = errors.New("history already set")
)

// Manager holds the append-only message list for one session.
// The list has exactly one writer; reads hand out copies.
type Manager struct {
	mx   sync.Mutex
	seen map[string]struct{}
	msgs []model.Message

	historySet bool
	live       bool
}

func New() *Manager {
	return &Manager{
		seen: make(map[string]struct{}),
	}
}

// Append adds a live message. Re-appending an already-seen id is a no-op
// and reports false.
func (m *Manager) Append(msg model.Message) bool {
	m.mx.Lock()
	defer m.mx.Unlock()

	if _, ok := m.seen[msg.ID]; ok {
		return false
	}
	m.seen[msg.ID] = struct{}{}
	m.msgs = append(m.msgs, msg)
	m.live = true
	return true
}

// ReplaceHistory sets the initial message prefix. Valid exactly once per
// session and only before any live message has been appended.
func (m *Manager) ReplaceHistory(msgs []model.Message) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.historySet {
		return ErrHistoryReplayed
	}
	if m.live {
		return ErrHistoryAfterLive
	}

	m.historySet = true
	m.msgs = make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if _, ok := m.seen[msg.ID]; ok {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		m.msgs = append(m.msgs, msg)
	}
	return nil
}

// Messages returns a copy of the list in arrival order.
func (m *Manager) Messages() []model.Message {
	m.mx.Lock()
	defer m.mx.Unlock()
	out := make([]model.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func (m *Manager) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return len(m.msgs)
}

// Group is one rendered run of consecutive messages from the same sender.
// It carries the first message's id as its key and the first message's
// sender snapshot.
type Group struct {
	ID       string
	Username string
	IsHost   bool
	Messages []model.Message
}

// Grouped recomputes the grouping projection from the full list.
func (m *Manager) Grouped() []Group {
	return GroupMessages(m.Messages())
}

// Group_ merges consecutive messages into groups: a sender change or a
// gap above groupGap starts a new group. Pure function of its input,
// recomputed from scratch on every call.
func GroupMessages(msgs []model.Message) []Group {
	if len(msgs) == 0 {
		return nil
	}

	var (
		grouped []Group
		cur     *Group
	)
	for i, msg := range msgs {
		if cur == nil ||
			msg.Username != msgs[i-1].Username ||
			msg.Timestamp.Sub(msgs[i-1].Timestamp) > groupGap {
			if cur != nil {
				grouped = append(grouped, *cur)
			}
			cur = &Group{
				ID:       msg.ID,
				Username: msg.Username,
				IsHost:   msg.IsHost,
				Messages: []model.Message{msg},
			}
			continue
		}
		cur.Messages = append(cur.Messages, msg)
	}
	return append(grouped, *cur)
}
