package membership

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x33x-chat/client/model"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	logger := zerolog.Nop()
	return New(Config{
		Logger:   &logger,
		RoomCode: "AB12CD",
		Username: "Mario",
	})
}

func TestJoinIntentIsIdempotent(t *testing.T) {
	c := newController(t)

	ev, err := c.JoinIntent()
	require.NoError(t, err)
	require.Equal(t, model.EventJoinRoom, ev.Name)

	var payload model.JoinRoomPayload
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "AB12CD", payload.RoomCode)
	assert.Equal(t, "Mario", payload.Username)

	// duplicate connect within the same session must not re-join
	_, err = c.JoinIntent()
	assert.ErrorIs(t, err, ErrJoinAlreadySent)
}

func TestJoinIntentAfterClose(t *testing.T) {
	c := newController(t)
	c.HandleClosed("inactivity")

	_, err := c.JoinIntent()
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRosterReplacedWholesale(t *testing.T) {
	c := newController(t)
	c.HandleRoomJoined([]model.User{
		{Username: "Mario", IsHost: true},
		{Username: "Luigi"},
	})
	require.True(t, c.Established())

	c.HandleRoster([]model.User{{Username: "Peach"}})

	roster := c.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "Peach", roster[0].Username)
}

func TestRosterDisplayOrderHostsFirst(t *testing.T) {
	c := newController(t)
	users := []model.User{
		{Username: "Luigi"},
		{Username: "Peach"},
		{Username: "Mario", IsHost: true},
		{Username: "Toad"},
	}
	c.HandleRoomJoined(users)

	roster := c.Roster()
	require.Len(t, roster, 4)
	assert.True(t, roster[0].IsHost)
	assert.Equal(t, "Mario", roster[0].Username)
	// relative order among guests is preserved from the server snapshot
	assert.Equal(t, []string{"Luigi", "Peach", "Toad"}, []string{
		roster[1].Username, roster[2].Username, roster[3].Username,
	})

	// stable across re-reads of the same snapshot
	assert.Equal(t, roster, c.Roster())
}

func TestClosedReasonRecordedOnce(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   model.CloseReason
	}{
		{name: "inactivity", reason: "inactivity", want: model.ReasonInactivity},
		{name: "host closed", reason: "host-closed", want: model.ReasonHostClosed},
		{name: "absent reason", reason: "", want: model.ReasonUnknown},
		{name: "unknown reason", reason: "whatever", want: model.ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t)
			got := c.HandleClosed(tt.reason)
			assert.Equal(t, tt.want, got)

			// the first closure is terminal
			assert.Equal(t, tt.want, c.HandleClosed("host-closed"))
			reason, closed := c.Closed()
			assert.True(t, closed)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestRoomAbsentSynthesizesNotFound(t *testing.T) {
	c := newController(t)

	require.True(t, c.RoomAbsent())
	reason, closed := c.Closed()
	assert.True(t, closed)
	assert.Equal(t, model.ReasonRoomNotFound, reason)

	// poll result arriving after a real closure must not override it
	c2 := newController(t)
	c2.HandleClosed("inactivity")
	assert.False(t, c2.RoomAbsent())
	reason, _ = c2.Closed()
	assert.Equal(t, model.ReasonInactivity, reason)
}

func TestEventsIgnoredAfterClose(t *testing.T) {
	c := newController(t)
	c.HandleRoomJoined([]model.User{{Username: "Mario", IsHost: true}})
	c.HandleClosed("inactivity")

	c.HandleRoster([]model.User{{Username: "Peach"}})
	roster := c.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "Mario", roster[0].Username)

	assert.False(t, c.CanSend())
}
