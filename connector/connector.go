// Package connector owns the websocket channel to the room server.
// It performs no retries: entry flows reconnect by re-opening, an active
// chat session surfaces the disconnect instead.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/x33x-chat/client/model"
)

const (
	defaultDialTimeout = 10 * time.Second

	defaultMaxMessageSize     = 9000
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give the server to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrConnectionTimeout = errors.New("connection attempt timed out")
	ErrDial              = errors.New("unable to connect")
	ErrRemoteClosed      = errors.New("connection closed by server")
	ErrTransport         = errors.New("transport failure")
)

type Config struct {
	Logger       *zerolog.Logger
	DialTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	return cfg
}

// Conn is one open channel to the server. The wire pair is live until
// Done is closed; Err then reports how the channel ended.
type Conn struct {
	wire   model.Wire
	ws     *websocket.Conn
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mx      sync.Mutex
	open    bool
	local   bool
	termErr error
}

// Open dials the room server and starts the send/receive pumps.
// A dial not completing within the configured timeout is reported
// as ErrConnectionTimeout.
func Open(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With().Str("component", "connector").Logger()

	dialer := &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer dialCancel()

	ws, resp, err := dialer.DialContext(dialCtx, addr, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if isTimeout(err) {
			return nil, errors.Join(ErrConnectionTimeout, err)
		}
		return nil, errors.Join(ErrDial, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		wire:   model.NewWire(),
		ws:     ws,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
		open:   true,
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		c.receiver(connCtx, wg, cfg.PongWait)
		cancel()
	}()
	go func() {
		c.sender(connCtx, wg, cfg.PingInterval)
		cancel()
	}()
	go func() {
		// writing the close frame also unblocks the receiver via its
		// shortened read deadline
		<-connCtx.Done()
		c.writeCloseFrame()
		wg.Wait()
		if err := c.ws.Close(); err != nil {
			logger.Debug().Err(err).Msg("websocket close")
		}
		c.mx.Lock()
		c.open = false
		c.mx.Unlock()
		close(c.done)
		logger.Debug().Msg("channel closed")
	}()

	logger.Debug().Str("addr", addr).Msg("channel opened")
	return c, nil
}

// Wire returns the event channel pair for this connection.
func (c *Conn) Wire() model.Wire {
	return c.wire
}

func (c *Conn) IsOpen() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.open
}

// Done is closed once both pumps have stopped and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports the terminal condition: nil after a local Close,
// ErrRemoteClosed for a server-initiated close frame, ErrTransport
// for a network-level drop.
func (c *Conn) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.local {
		return nil
	}
	return c.termErr
}

// Close tears the channel down locally and waits for the pumps to stop.
func (c *Conn) Close() {
	c.mx.Lock()
	c.local = true
	c.mx.Unlock()
	c.cancel()
	<-c.done
}

func (c *Conn) setTermErr(err error) {
	c.mx.Lock()
	if c.termErr == nil {
		c.termErr = err
	}
	c.mx.Unlock()
}

func (c *Conn) sender(ctx context.Context, wg *sync.WaitGroup, pingInterval time.Duration) {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := c.ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = c.ws.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			c.logger.Trace().Msg("ping sent")

		case ev, ok := <-c.wire.TX:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&ev)
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to marshall outgoing event")
				break SendLoop
			}

			wsErr = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = c.ws.WriteMessage(websocket.TextMessage, b); wsErr != nil {
				c.setTermErr(errors.Join(ErrTransport, wsErr))
				c.logger.Error().Err(wsErr).Msg("failed to write outgoing event")
				break SendLoop
			}
			c.logger.Trace().Str("event", ev.Name).Msg("event sent")
		}
	}
}

func (c *Conn) receiver(ctx context.Context, wg *sync.WaitGroup, pongWait time.Duration) {
	defer wg.Done()

	c.ws.SetReadLimit(defaultMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	}
	c.ws.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return readDeadLineFunc(pongWait)
	})
	if err := readDeadLineFunc(pongWait); err != nil {
		c.logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := c.ws.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					c.setTermErr(errors.Join(ErrRemoteClosed, wsErr))
					c.logger.Warn().Err(wsErr).Msg("connection closed by server")
				} else {
					c.setTermErr(errors.Join(ErrTransport, wsErr))
					c.logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var ev model.Event
			if wsErr = json.Unmarshal(msg, &ev); wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to unmarshall incoming event")
			} else {
				select {
				case c.wire.RX <- ev:
				case <-ctx.Done():
					break RecvLoop
				}
			}
		}
	}
}

func (c *Conn) writeCloseFrame() {
	// WriteControl is safe alongside the sender's writes
	wsErr := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseWriteDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		c.logger.Debug().Err(wsErr).Msg("failed to write close frame")
	}
	// give a blocked read a bounded time to drain the close handshake
	if wsErr = c.ws.SetReadDeadline(time.Now().Add(defaultCloseWriteDeadline)); wsErr != nil {
		c.logger.Debug().Err(wsErr).Msg("failed to shorten read deadline during closing")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nErr net.Error
	return errors.As(err, &nErr) && nErr.Timeout()
}
