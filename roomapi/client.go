// Package roomapi is the auxiliary HTTP client used alongside the event
// channel: the live-room lookup backing the existence poller, and the
// reachability probe used by the entry flows.
package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 5 * time.Second

var (
	ErrServerUnavailable = errors.New("room server unavailable")
)

// Client queries the room server's HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(baseURL string, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.With().Str("component", "roomapi").Logger(),
	}
}

// RoomInfo is one live room as reported by the server.
type RoomInfo struct {
	Code  string `json:"code"`
	Users int    `json:"users,omitempty"`
}

type roomsResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

// LiveRooms returns the set of currently live room codes.
func (c *Client) LiveRooms(ctx context.Context) (map[string]struct{}, error) {
	body, err := c.get(ctx, "/debug/rooms")
	if err != nil {
		return nil, err
	}

	var resp roomsResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed rooms response: %w", err)
	}

	live := make(map[string]struct{}, len(resp.Rooms))
	for _, room := range resp.Rooms {
		live[room.Code] = struct{}{}
	}
	return live, nil
}

// RoomExists reports whether roomCode is in the live-room set.
func (c *Client) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	live, err := c.LiveRooms(ctx)
	if err != nil {
		return false, err
	}
	_, ok := live[roomCode]
	return ok, nil
}

// Health probes server reachability.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health")
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("request failed")
		return nil, errors.Join(ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrServerUnavailable, resp.StatusCode)
	}
	return body, nil
}
