package app

import (
	"context"
	"fmt"
	"log/slog"

	"arcadeops/admin-console/internal/config"
	"arcadeops/admin-console/internal/httpserver"
	"arcadeops/admin-console/internal/listview"
	"arcadeops/admin-console/internal/resource"
	"arcadeops/admin-console/internal/session"
)

type userLister interface {
	List(ctx context.Context, f resource.UserFilter) (resource.Page[resource.User], error)
}

type roomLister interface {
	List(ctx context.Context, f resource.RoomFilter) (resource.Page[resource.GameRoom], error)
}

type sessionLister interface {
	List(ctx context.Context, f resource.SessionFilter) (resource.Page[resource.GameSession], error)
}

type leaderboardLister interface {
	List(ctx context.Context, f resource.LeaderboardFilter) (resource.Page[resource.LeaderboardEntry], error)
}

// listers are the resources behind the four admin tables.
type listers struct {
	users       userLister
	rooms       roomLister
	sessions    sessionLister
	leaderboard leaderboardLister
}

func listParams(q listview.Query) resource.ListParams {
	return resource.ListParams{Page: q.Page, Limit: q.Limit, SortBy: q.SortBy, SortOrder: q.SortOrder}
}

// buildViews wires one controller per admin table. The leaderboard pages
// locally over a single batch; the rest page on the server.
func buildViews(cfg config.ListConfig, src listers, log *slog.Logger) (map[string]listview.View, error) {
	views := make(map[string]listview.View, 4)
	limit := min(listview.DefaultLimit, cfg.MaxLimit)
	closeAll := func() {
		for _, v := range views {
			v.Close()
		}
	}

	users, err := listview.New(listview.Config[resource.User]{
		Name: httpserver.ViewUsers,
		Fields: []listview.Field{
			{Key: "search", Kind: listview.Text},
			{Key: "role", Kind: listview.Choice},
			{Key: "status", Kind: listview.Choice},
		},
		DefaultLimit:  limit,
		MaxLimit:      cfg.MaxLimit,
		Debounce:      cfg.Debounce,
		DefaultSortBy: "createdAt",
		DefaultOrder:  listview.SortDesc,
		SortFields:    []string{"createdAt", "username", "level", "lastSeenAt"},
		Logger:        log,
		Fetch: func(ctx context.Context, q listview.Query) (resource.Page[resource.User], error) {
			return src.users.List(ctx, resource.UserFilter{
				ListParams: listParams(q),
				Search:     q.Filter("search"),
				Role:       q.Filter("role"),
				Status:     q.Filter("status"),
			})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create users view: %w", err)
	}
	views[users.Name()] = users

	rooms, err := listview.New(listview.Config[resource.GameRoom]{
		Name: httpserver.ViewRooms,
		Fields: []listview.Field{
			{Key: "status", Kind: listview.Choice},
			{Key: "roomCode", Kind: listview.Text},
		},
		DefaultLimit:  limit,
		MaxLimit:      cfg.MaxLimit,
		Debounce:      cfg.Debounce,
		DefaultSortBy: "createdAt",
		DefaultOrder:  listview.SortDesc,
		Logger:        log,
		Fetch: func(ctx context.Context, q listview.Query) (resource.Page[resource.GameRoom], error) {
			return src.rooms.List(ctx, resource.RoomFilter{
				ListParams: listParams(q),
				Status:     q.Filter("status"),
				RoomCode:   q.Filter("roomCode"),
			})
		},
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("create rooms view: %w", err)
	}
	views[rooms.Name()] = rooms

	sessions, err := listview.New(listview.Config[resource.GameSession]{
		Name: httpserver.ViewSessions,
		Fields: []listview.Field{
			{Key: "status", Kind: listview.Choice},
			{Key: "roomCode", Kind: listview.Text},
			{Key: "player", Kind: listview.Text},
		},
		DefaultLimit:  limit,
		MaxLimit:      cfg.MaxLimit,
		Debounce:      cfg.Debounce,
		DefaultSortBy: "startedAt",
		DefaultOrder:  listview.SortDesc,
		Logger:        log,
		Fetch: func(ctx context.Context, q listview.Query) (resource.Page[resource.GameSession], error) {
			return src.sessions.List(ctx, resource.SessionFilter{
				ListParams: listParams(q),
				Status:     q.Filter("status"),
				RoomCode:   q.Filter("roomCode"),
				Player:     q.Filter("player"),
			})
		},
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("create sessions view: %w", err)
	}
	views[sessions.Name()] = sessions

	leaderboard, err := listview.New(listview.Config[resource.LeaderboardEntry]{
		Name: httpserver.ViewLeaderboard,
		Fields: []listview.Field{
			{Key: "period", Kind: listview.Choice, Default: "all"},
			{Key: "player", Kind: listview.Text},
		},
		Mode:         listview.ModeClient,
		BatchSize:    cfg.MaxLimit,
		DefaultLimit: limit,
		MaxLimit:     cfg.MaxLimit,
		Debounce:     cfg.Debounce,
		Logger:       log,
		Fetch: func(ctx context.Context, q listview.Query) (resource.Page[resource.LeaderboardEntry], error) {
			return src.leaderboard.List(ctx, resource.LeaderboardFilter{
				ListParams: listParams(q),
				Period:     q.Filter("period"),
				Player:     q.Filter("player"),
			})
		},
	})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("create leaderboard view: %w", err)
	}
	views[leaderboard.Name()] = leaderboard

	return views, nil
}

// invalidateOnSignIn drops every view's rows whenever the operator signs in,
// signs out, is expired by a 401 or is replaced, so no table keeps the
// previous session's rows or error.
func invalidateOnSignIn(store *session.Store, views map[string]listview.View, log *slog.Logger) {
	store.OnChange(func(prev, next session.State) {
		if !session.IdentityChanged(prev, next) {
			return
		}
		if log != nil {
			log.Debug("session changed; invalidating list views", "signed_in", next.Token != "")
		}
		for _, v := range views {
			v.Invalidate()
		}
	})
}
