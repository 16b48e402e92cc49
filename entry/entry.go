// Package entry implements the create/join flows that precede a chat
// session. Each flow runs on its own short-lived connection: verifying
// entry and holding the session never share a channel, so a failed
// attempt retries by re-opening rather than by reconnecting in place.
package entry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/x33x-chat/client/connector"
	"github.com/x33x-chat/client/model"
)

var (
	ErrCreate      = errors.New("unable to create room")
	ErrJoin        = errors.New("unable to join room")
	ErrServerError = errors.New("server rejected request")
)

type Config struct {
	Logger    *zerolog.Logger
	Connector connector.Config
}

// CreateRoom asks the server for a fresh room and returns its code.
// The caller then joins the room as host through a chat session.
func CreateRoom(ctx context.Context, addr, username string, cfg Config) (string, error) {
	if err := model.ValidateUsername(username); err != nil {
		return "", errors.Join(ErrCreate, err)
	}

	logger := cfg.Logger.With().Str("component", "entry").Logger()

	intent, err := model.NewEvent(model.EventCreateRoom, model.CreateRoomPayload{
		Username: username,
	})
	if err != nil {
		return "", errors.Join(ErrCreate, err)
	}

	var roomCode string
	err = runFlow(ctx, addr, cfg, intent, func(ev model.Event) (bool, error) {
		if ev.Name != model.EventRoomCreated {
			return false, nil
		}
		var payload model.RoomCreatedPayload
		if dErr := ev.Decode(&payload); dErr != nil {
			return false, dErr
		}
		roomCode = payload.RoomCode
		return true, nil
	})
	if err != nil {
		return "", errors.Join(ErrCreate, err)
	}

	logger.Info().Str("roomCode", roomCode).Msg("room created")
	return roomCode, nil
}

// Join verifies that roomCode accepts username. On success the caller
// proceeds to a chat session, which re-opens and re-joins on its own
// channel. Returns the normalized room code.
func Join(ctx context.Context, addr, roomCode, username string, cfg Config) (string, error) {
	code, err := model.NormalizeRoomCode(roomCode)
	if err != nil {
		return "", errors.Join(ErrJoin, err)
	}
	if err = model.ValidateUsername(username); err != nil {
		return "", errors.Join(ErrJoin, err)
	}

	logger := cfg.Logger.With().Str("component", "entry").Logger()

	intent, err := model.NewEvent(model.EventJoinRoom, model.JoinRoomPayload{
		RoomCode: code,
		Username: username,
	})
	if err != nil {
		return "", errors.Join(ErrJoin, err)
	}

	err = runFlow(ctx, addr, cfg, intent, func(ev model.Event) (bool, error) {
		return ev.Name == model.EventRoomJoined, nil
	})
	if err != nil {
		return "", errors.Join(ErrJoin, err)
	}

	logger.Info().Str("roomCode", code).Msg("join verified")
	return code, nil
}

// runFlow opens a connection, sends one intent and waits for done to
// accept a server event. The connection is torn down before returning.
func runFlow(
	ctx context.Context,
	addr string,
	cfg Config,
	intent model.Event,
	done func(model.Event) (bool, error),
) error {
	conn, err := connector.Open(ctx, addr, cfg.Connector)
	if err != nil {
		return err
	}
	defer conn.Close()

	wire := conn.Wire()
	select {
	case wire.TX <- intent:
	case <-conn.Done():
		return termErr(conn)
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case ev := <-wire.RX:
			if ev.Name == model.EventError {
				var payload model.ErrorPayload
				_ = ev.Decode(&payload)
				return fmt.Errorf("%w: %s", ErrServerError, payload.Message)
			}
			ok, dErr := done(ev)
			if dErr != nil {
				return dErr
			}
			if ok {
				return nil
			}
		case <-conn.Done():
			return termErr(conn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func termErr(conn *connector.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return connector.ErrRemoteClosed
}
