package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCloseReason(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want CloseReason
	}{
		{name: "inactivity", in: "inactivity", want: ReasonInactivity},
		{name: "host closed", in: "host-closed", want: ReasonHostClosed},
		{name: "not found", in: "not-found", want: ReasonRoomNotFound},
		{name: "absent", in: "", want: ReasonUnknown},
		{name: "unrecognized", in: "meteor-strike", want: ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCloseReason(tt.in))
		})
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "lowercase is uppercased", in: "ab12cd", want: "AB12CD"},
		{name: "surrounding space trimmed", in: " AB12CD ", want: "AB12CD"},
		{name: "too short", in: "AB12", wantErr: true},
		{name: "too long", in: "AB12CD3", wantErr: true},
		{name: "non alphanumeric", in: "AB-2CD", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRoomCode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRoomCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "simple", in: "Mario"},
		{name: "digits", in: "Mario64"},
		{name: "max length", in: "abcdefghij123456"},
		{name: "empty", in: "", wantErr: true},
		{name: "whitespace only", in: "   ", wantErr: true},
		{name: "too long", in: "abcdefghij1234567", wantErr: true},
		{name: "spaces inside", in: "Mario Rossi", wantErr: true},
		{name: "symbols", in: "mario!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidUsername)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEventPayloadDecode(t *testing.T) {
	ev, err := NewEvent(EventJoinRoom, JoinRoomPayload{RoomCode: "AB12CD", Username: "Mario"})
	require.NoError(t, err)
	require.Equal(t, EventJoinRoom, ev.Name)

	var payload JoinRoomPayload
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "AB12CD", payload.RoomCode)
	assert.Equal(t, "Mario", payload.Username)
}

func TestEventEmptyPayload(t *testing.T) {
	ev, err := NewEvent(EventHeartbeat, nil)
	require.NoError(t, err)

	var payload struct{}
	assert.NoError(t, ev.Decode(&payload))
}
