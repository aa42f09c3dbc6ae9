package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"arcadeops/admin-console/internal/apiclient"
)

type SessionFilter struct {
	ListParams
	Status   string
	RoomCode string
	Player   string
}

func (f SessionFilter) query() url.Values {
	q := url.Values{}
	f.ListParams.apply(q)
	setString(q, "status", f.Status)
	setString(q, "roomCode", f.RoomCode)
	setString(q, "player", f.Player)
	return q
}

type SessionClient struct {
	api Dispatcher
}

func NewSessionClient(api Dispatcher) (*SessionClient, error) {
	if api == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &SessionClient{api: api}, nil
}

func (c *SessionClient) List(ctx context.Context, f SessionFilter) (Page[GameSession], error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/game-sessions", Query: f.query()})
	if err != nil {
		return Page[GameSession]{}, err
	}
	return decodePage[GameSession](payload, f.ListParams)
}

func (c *SessionClient) Get(ctx context.Context, id string) (GameSession, error) {
	path, err := entityPath("/game-sessions", id)
	if err != nil {
		return GameSession{}, err
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return GameSession{}, err
	}
	var s GameSession
	if err := decodeData(payload, &s); err != nil {
		return GameSession{}, err
	}
	return s, nil
}

func (c *SessionClient) Stats(ctx context.Context) (SessionStats, error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/game-sessions/stats"})
	if err != nil {
		return SessionStats{}, err
	}
	var st SessionStats
	if err := decodeData(payload, &st); err != nil {
		return SessionStats{}, err
	}
	return st, nil
}
