package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadeops/admin-console/internal/config"
	"arcadeops/admin-console/internal/httpserver"
	"arcadeops/admin-console/internal/listview"
	"arcadeops/admin-console/internal/resource"
)

type recordingUsers struct {
	mu   sync.Mutex
	seen []resource.UserFilter
}

func (r *recordingUsers) List(_ context.Context, f resource.UserFilter) (resource.Page[resource.User], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, f)
	return resource.Page[resource.User]{Items: []resource.User{{ID: "u-1"}}, Total: 1, Page: f.Page, Limit: f.Limit}, nil
}

type staticRooms struct{}

func (staticRooms) List(context.Context, resource.RoomFilter) (resource.Page[resource.GameRoom], error) {
	return resource.Page[resource.GameRoom]{Items: []resource.GameRoom{}}, nil
}

type staticSessions struct{}

func (staticSessions) List(context.Context, resource.SessionFilter) (resource.Page[resource.GameSession], error) {
	return resource.Page[resource.GameSession]{Items: []resource.GameSession{}}, nil
}

type recordingLeaderboard struct {
	mu   sync.Mutex
	seen []resource.LeaderboardFilter
}

func (r *recordingLeaderboard) List(_ context.Context, f resource.LeaderboardFilter) (resource.Page[resource.LeaderboardEntry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, f)
	return resource.Page[resource.LeaderboardEntry]{Items: []resource.LeaderboardEntry{{Rank: 1, UserID: "p-1"}}, Total: 1}, nil
}

func settle(t *testing.T, v listview.View) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, v.Settle(ctx))
}

func TestBuildViewsMapsQueryToFilters(t *testing.T) {
	users := &recordingUsers{}
	board := &recordingLeaderboard{}
	views, err := buildViews(config.ListConfig{Debounce: 0, MaxLimit: 50}, listers{
		users:       users,
		rooms:       staticRooms{},
		sessions:    staticSessions{},
		leaderboard: board,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, v := range views {
			v.Close()
		}
	})
	assert.Len(t, views, 4)

	uv := views["users"]
	require.NotNil(t, uv)
	uv.Load()
	settle(t, uv)
	require.NoError(t, uv.SetFilter("role", "staff"))
	settle(t, uv)

	users.mu.Lock()
	require.Len(t, users.seen, 2)
	last := users.seen[1]
	users.mu.Unlock()
	assert.Equal(t, "staff", last.Role)
	assert.Equal(t, 1, last.Page)
	assert.Equal(t, 20, last.Limit)
	assert.Equal(t, "createdAt", last.SortBy)
	assert.Equal(t, listview.SortDesc, last.SortOrder)

	lv := views["leaderboard"]
	lv.Load()
	settle(t, lv)
	board.mu.Lock()
	require.Len(t, board.seen, 1)
	assert.Equal(t, "all", board.seen[0].Period)
	assert.Equal(t, 50, board.seen[0].Limit, "client mode fetches one full batch")
	board.mu.Unlock()
}

func TestBuildViewsClampsDefaultLimit(t *testing.T) {
	views, err := buildViews(config.ListConfig{MaxLimit: 10}, listers{
		users:       &recordingUsers{},
		rooms:       staticRooms{},
		sessions:    staticSessions{},
		leaderboard: &recordingLeaderboard{},
	}, nil)
	require.NoError(t, err)
	for _, v := range views {
		v.Close()
	}
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		API:          config.APIConfig{BaseURL: baseURL, RequestTimeout: 2 * time.Second},
		Session:      config.SessionConfig{Store: config.StoreFile, StateFile: filepath.Join(dir, "session.json")},
		List:         config.ListConfig{Debounce: 0, MaxLimit: 100},
		AuditLogFile: filepath.Join(dir, "audit.log"),
		AdminRoles:   []string{"ADMIN", "staff"},
	}
}

func TestClientsExpireSessionOnUnauthorized(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"tok-1","user":{"id":"u-1","username":"admin","roles":["ADMIN"]}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token expired"}`))
		}
	}))
	defer backend.Close()

	cfg := testConfig(t, backend.URL+"/api")
	ctx := context.Background()
	clients, err := NewClients(ctx, cfg, nil)
	require.NoError(t, err)
	defer clients.Close()

	_, err = clients.Auth.Login(ctx, resource.Credentials{Username: "admin", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, clients.Store.Authenticated())

	_, err = clients.Users.Get(ctx, "u-2")
	require.Error(t, err)
	assert.False(t, clients.Store.Authenticated())

	events, err := clients.Audit.Tail(5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "auth.expired", events[0].Action)
	assert.Equal(t, "admin", events[0].Actor)

	// The file store survives a restart.
	_, err = clients.Auth.Login(ctx, resource.Credentials{Username: "admin", Password: "pw"})
	require.NoError(t, err)
	again, err := NewClients(ctx, cfg, nil)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, "tok-1", again.Store.Token())
}

func TestNewBuildsServer(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api")
	cfg.Session.Store = config.StoreMemory
	cfg.HTTP = config.HTTPConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, a.views, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestViewsReloadAfterExpiryAndSignIn(t *testing.T) {
	var logins, userFetches atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			n := logins.Add(1)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"token":"tok-%d","user":{"id":"u-1","username":"admin","roles":["ADMIN"]}}`, n)))
		case "/api/auth/logout":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/api/admin/users":
			userFetches.Add(1)
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"token expired"}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"id":"u-9","username":"neo"}],"total":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	cfg := testConfig(t, backend.URL+"/api")
	cfg.Session.Store = config.StoreMemory
	ctx := context.Background()
	clients, err := NewClients(ctx, cfg, nil)
	require.NoError(t, err)
	defer clients.Close()

	views, err := buildViews(cfg.List, listers{
		users:       clients.Users,
		rooms:       clients.Rooms,
		sessions:    clients.Sessions,
		leaderboard: clients.Leaderboard,
	}, nil)
	require.NoError(t, err)
	defer func() {
		for _, v := range views {
			v.Close()
		}
	}()
	invalidateOnSignIn(clients.Store, views, nil)
	handler := httpserver.NewHandler(serverDeps(cfg, clients, views, nil))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	type viewBody struct {
		Status listview.Status `json:"status"`
		Keys   []string        `json:"keys"`
		Error  string          `json:"error"`
	}
	usersView := func() viewBody {
		t.Helper()
		rec := do(http.MethodGet, "/v1/views/users?wait=true", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var s viewBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
		return s
	}
	login := `{"username":"admin","password":"pw"}`

	require.Equal(t, http.StatusOK, do(http.MethodPost, "/v1/auth/login", login).Code)
	s := usersView()
	assert.False(t, clients.Store.Authenticated(), "the 401 expires the session")
	assert.Empty(t, s.Error, "the expired session's error must not be kept")
	assert.Equal(t, listview.StatusIdle, s.Status)

	rec := do(http.MethodGet, "/v1/views/users", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, http.StatusOK, do(http.MethodPost, "/v1/auth/login", login).Code)
	s = usersView()
	assert.Equal(t, listview.StatusSuccess, s.Status)
	assert.Equal(t, []string{"u-9"}, s.Keys)
	assert.Equal(t, int32(2), userFetches.Load())

	require.Equal(t, http.StatusNoContent, do(http.MethodPost, "/v1/auth/logout", "").Code)
	after, ok := views["users"].State().(listview.Snapshot[resource.User])
	require.True(t, ok)
	assert.Equal(t, listview.StatusIdle, after.Status)
	assert.Empty(t, after.Items, "signing out drops the cached rows")
}
