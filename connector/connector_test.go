package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x33x-chat/client/model"
)

var upgrader = &websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, msg, rErr := ws.ReadMessage()
			if rErr != nil {
				return
			}
			if wErr := ws.WriteMessage(mt, msg); wErr != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	logger := zerolog.Nop()
	return Config{Logger: &logger}
}

func TestOpenSendReceive(t *testing.T) {
	srv := echoServer(t)

	conn, err := Open(context.Background(), wsURL(srv), testConfig())
	require.NoError(t, err)
	defer conn.Close()
	require.True(t, conn.IsOpen())

	out, err := model.NewEvent(model.EventHeartbeat, struct{}{})
	require.NoError(t, err)

	wire := conn.Wire()
	select {
	case wire.TX <- out:
	case <-time.After(time.Second):
		t.Fatal("send stalled")
	}

	select {
	case ev := <-wire.RX:
		assert.Equal(t, model.EventHeartbeat, ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no echo received")
	}
}

func TestLocalClose(t *testing.T) {
	srv := echoServer(t)

	conn, err := Open(context.Background(), wsURL(srv), testConfig())
	require.NoError(t, err)

	conn.Close()
	assert.False(t, conn.IsOpen())
	// local teardown is not a failure
	assert.NoError(t, conn.Err())

	select {
	case <-conn.Done():
	default:
		t.Fatal("done not closed after Close")
	}
}

func TestRemoteClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		// keep reading so the close handshake completes
		for {
			if _, _, rErr := ws.ReadMessage(); rErr != nil {
				break
			}
		}
		_ = ws.Close()
	}))
	t.Cleanup(srv.Close)

	conn, err := Open(context.Background(), wsURL(srv), testConfig())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not report remote close")
	}
	assert.ErrorIs(t, conn.Err(), ErrRemoteClosed)
}

func TestNetworkDrop(t *testing.T) {
	var serverConn *websocket.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn = ws
		close(ready)
		for {
			if _, _, rErr := ws.ReadMessage(); rErr != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, err := Open(context.Background(), wsURL(srv), testConfig())
	require.NoError(t, err)
	defer conn.Close()

	<-ready
	// drop the TCP connection without a close frame
	require.NoError(t, serverConn.NetConn().Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not report drop")
	}
	assert.ErrorIs(t, conn.Err(), ErrTransport)
}

func TestConnectionTimeout(t *testing.T) {
	// a listener that accepts but never answers the handshake
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.DialTimeout = 50 * time.Millisecond

	_, err := Open(context.Background(), wsURL(srv), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
}

func TestDialFailure(t *testing.T) {
	srv := echoServer(t)
	addr := wsURL(srv)
	srv.Close()

	_, err := Open(context.Background(), addr, testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDial)
}
