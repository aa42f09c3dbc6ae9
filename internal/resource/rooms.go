package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"arcadeops/admin-console/internal/apiclient"
)

type RoomFilter struct {
	ListParams
	Status   string
	RoomCode string
}

func (f RoomFilter) query() url.Values {
	q := url.Values{}
	f.ListParams.apply(q)
	setString(q, "status", f.Status)
	setString(q, "roomCode", f.RoomCode)
	return q
}

type RoomClient struct {
	api Dispatcher
}

func NewRoomClient(api Dispatcher) (*RoomClient, error) {
	if api == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &RoomClient{api: api}, nil
}

func (c *RoomClient) List(ctx context.Context, f RoomFilter) (Page[GameRoom], error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/game-rooms", Query: f.query()})
	if err != nil {
		return Page[GameRoom]{}, err
	}
	return decodePage[GameRoom](payload, f.ListParams)
}

func (c *RoomClient) Get(ctx context.Context, id string) (GameRoom, error) {
	path, err := entityPath("/game-rooms", id)
	if err != nil {
		return GameRoom{}, err
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return GameRoom{}, err
	}
	var r GameRoom
	if err := decodeData(payload, &r); err != nil {
		return GameRoom{}, err
	}
	return r, nil
}

// Close force-closes a room and ends any session running in it.
func (c *RoomClient) Close(ctx context.Context, id string) error {
	path, err := entityPath("/game-rooms", id, "close")
	if err != nil {
		return err
	}
	_, err = c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: path})
	return err
}
