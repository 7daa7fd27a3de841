package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"veilroom/internal/domain"
)

// beaconTimeout bounds the fire-and-forget leave call. It runs on a
// detached context so it survives the caller's teardown.
const beaconTimeout = 3 * time.Second

// Client talks to the room server's HTTP API.
type Client struct {
	Base string
	HTTP *http.Client

	log *slog.Logger
}

var _ domain.RoomAPI = (*Client)(nil)

// NewClient builds a room API client for a base URL like
// https://relay.example.com.
func NewClient(base string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{Base: base, HTTP: http.DefaultClient, log: log}
}

type createReq struct {
	ID          string `json:"id"`
	AuthKeyHash string `json:"authKeyHash"`
}

type authReq struct {
	AuthKeyHash string `json:"authKeyHash"`
}

type occupancyReq struct {
	Count       int    `json:"count"`
	AuthKeyHash string `json:"authKeyHash"`
}

func (c *Client) CreateRoom(ctx context.Context, roomID, authKeyHash string) (domain.RoomState, error) {
	var out domain.RoomState
	err := c.post(ctx, "/rooms", createReq{ID: roomID, AuthKeyHash: authKeyHash}, &out)
	return out, err
}

func (c *Client) Authorize(ctx context.Context, roomID, authKeyHash string) (domain.RoomState, error) {
	var out domain.RoomState
	err := c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/authorize", authReq{AuthKeyHash: authKeyHash}, &out)
	return out, err
}

func (c *Client) SetOccupancy(ctx context.Context, roomID string, count int, authKeyHash string) error {
	return c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/occupancy",
		occupancyReq{Count: count, AuthKeyHash: authKeyHash}, nil)
}

func (c *Client) DestroyRoom(ctx context.Context, roomID, authKeyHash string) error {
	return c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/destroy", authReq{AuthKeyHash: authKeyHash}, nil)
}

// LeaveBeacon decrements occupancy on a detached context and drops any
// error: it fires during process teardown when nothing can act on failure.
func (c *Client) LeaveBeacon(roomID, authKeyHash string) {
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()
	if err := c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/leave", authReq{AuthKeyHash: authKeyHash}, nil); err != nil {
		c.log.Debug("leave beacon dropped", "room", roomID, "err", err)
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// apiError is the server's JSON error body.
type apiError struct {
	Error string `json:"error"`
}

// Error codes on the wire. Terminal room states surface as distinct
// user-facing reasons, not generic failures.
const (
	CodeUnauthorized  = "unauthorized"
	CodeRoomFull      = "room_full"
	CodeRoomDestroyed = "room_destroyed"
	CodeRoomExpired   = "room_expired"
	CodeNotFound      = "not_found"
)

func decodeError(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch body.Error {
	case CodeUnauthorized:
		return domain.ErrUnauthorized
	case CodeRoomFull:
		return domain.ErrRoomFull
	case CodeRoomDestroyed:
		return domain.ErrRoomDestroyed
	case CodeRoomExpired:
		return domain.ErrRoomExpired
	case CodeNotFound:
		return domain.ErrRoomDestroyed
	}
	return fmt.Errorf("relay: %s", resp.Status)
}
