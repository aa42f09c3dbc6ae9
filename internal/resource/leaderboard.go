package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"arcadeops/admin-console/internal/apiclient"
)

type LeaderboardFilter struct {
	ListParams
	Period string
	Player string
}

func (f LeaderboardFilter) query() url.Values {
	q := url.Values{}
	f.ListParams.apply(q)
	setString(q, "period", f.Period)
	setString(q, "player", f.Player)
	return q
}

type LeaderboardClient struct {
	api Dispatcher
}

func NewLeaderboardClient(api Dispatcher) (*LeaderboardClient, error) {
	if api == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &LeaderboardClient{api: api}, nil
}

func (c *LeaderboardClient) List(ctx context.Context, f LeaderboardFilter) (Page[LeaderboardEntry], error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/leaderboard", Query: f.query()})
	if err != nil {
		return Page[LeaderboardEntry]{}, err
	}
	page, err := decodePage[LeaderboardEntry](payload, f.ListParams)
	if err != nil {
		return Page[LeaderboardEntry]{}, err
	}
	for i := range page.Items {
		page.Items[i].fillDisplayName()
	}
	return page, nil
}

// Player returns the standing of one player.
func (c *LeaderboardClient) Player(ctx context.Context, userID string) (LeaderboardEntry, error) {
	path, err := entityPath("/leaderboard/players", userID)
	if err != nil {
		return LeaderboardEntry{}, err
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return LeaderboardEntry{}, err
	}
	var e LeaderboardEntry
	if err := decodeData(payload, &e); err != nil {
		return LeaderboardEntry{}, err
	}
	if e.UserID == "" {
		e.UserID = userID
	}
	e.fillDisplayName()
	return e, nil
}
