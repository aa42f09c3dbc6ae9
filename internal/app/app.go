package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/audit"
	"arcadeops/admin-console/internal/config"
	"arcadeops/admin-console/internal/guard"
	"arcadeops/admin-console/internal/httpserver"
	"arcadeops/admin-console/internal/listview"
	"arcadeops/admin-console/internal/observability"
	"arcadeops/admin-console/internal/resource"
	"arcadeops/admin-console/internal/session"
)

// Version is set at build time.
var Version = "dev"

// Clients is everything that talks to the platform backend, sharing one
// Token Store. The console server and the CLI both build on it.
type Clients struct {
	Store       *session.Store
	Guard       *guard.Guard
	API         *apiclient.Client
	Auth        *resource.AuthClient
	Users       *resource.UserClient
	Rooms       *resource.RoomClient
	Sessions    *resource.SessionClient
	Leaderboard *resource.LeaderboardClient
	Audit       *audit.Logger

	db  *sql.DB
	rdb *redis.Client
}

func NewClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = observability.Discard()
	}
	c := &Clients{Audit: audit.NewLogger(cfg.AuditLogFile)}

	kv, err := c.openKV(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	c.Store, err = session.Open(ctx, kv, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	c.Guard, err = guard.New(c.Store, guard.Options{
		AdminRoles: cfg.AdminRoles,
		Logger:     logger,
		OnExpired: func(_ context.Context, p session.Profile) {
			_ = c.Audit.Log(audit.Event{Actor: p.Username, Action: "auth.expired", Outcome: audit.Denied})
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create guard: %w", err)
	}

	c.API, err = apiclient.New(apiclient.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.RequestTimeout,
		Tokens:         c.Store,
		OnUnauthorized: c.Guard.HandleUnauthorized,
		Logger:         logger,
		UserAgent:      "arcadeops-admin-console/" + Version,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	if c.Auth, err = resource.NewAuthClient(c.API, c.Store, logger); err != nil {
		c.Close()
		return nil, fmt.Errorf("create auth client: %w", err)
	}
	if c.Users, err = resource.NewUserClient(c.API); err != nil {
		c.Close()
		return nil, fmt.Errorf("create user client: %w", err)
	}
	if c.Rooms, err = resource.NewRoomClient(c.API); err != nil {
		c.Close()
		return nil, fmt.Errorf("create room client: %w", err)
	}
	if c.Sessions, err = resource.NewSessionClient(c.API); err != nil {
		c.Close()
		return nil, fmt.Errorf("create session client: %w", err)
	}
	if c.Leaderboard, err = resource.NewLeaderboardClient(c.API); err != nil {
		c.Close()
		return nil, fmt.Errorf("create leaderboard client: %w", err)
	}
	return c, nil
}

func (c *Clients) openKV(ctx context.Context, cfg config.SessionConfig) (session.KV, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		kv, err := session.NewPostgresKV(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create postgres session store: %w", err)
		}
		c.db = db
		return kv, nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		kv, err := session.NewRedisKV(rdb, cfg.RedisKeyPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("create redis session store: %w", err)
		}
		c.rdb = rdb
		return kv, nil
	case config.StoreMemory:
		return session.NewMemoryKV(), nil
	default:
		kv, err := session.NewFileKV(cfg.StateFile)
		if err != nil {
			return nil, fmt.Errorf("create file session store: %w", err)
		}
		return kv, nil
	}
}

// Close releases the backing store connections.
func (c *Clients) Close() {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
		c.rdb = nil
	}
}

type App struct {
	cfg     config.Config
	log     *slog.Logger
	clients *Clients
	views   map[string]listview.View
	server  *httpserver.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)

	clients, err := NewClients(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	views, err := buildViews(cfg.List, listers{
		users:       clients.Users,
		rooms:       clients.Rooms,
		sessions:    clients.Sessions,
		leaderboard: clients.Leaderboard,
	}, logger)
	if err != nil {
		clients.Close()
		return nil, err
	}

	invalidateOnSignIn(clients.Store, views, logger)
	server := httpserver.New(cfg.HTTP, serverDeps(cfg, clients, views, logger))

	return &App{
		cfg:     cfg,
		log:     logger,
		clients: clients,
		views:   views,
		server:  server,
	}, nil
}

func serverDeps(cfg config.Config, clients *Clients, views map[string]listview.View, logger *slog.Logger) httpserver.Deps {
	return httpserver.Deps{
		Auth:            clients.Auth,
		Users:           clients.Users,
		Rooms:           clients.Rooms,
		Sessions:        clients.Sessions,
		Leaderboard:     clients.Leaderboard,
		Views:           views,
		Guard:           clients.Guard,
		Session:         clients.Store,
		Audit:           clients.Audit,
		Navigation:      httpserver.NewNavigation(),
		FrontendDistDir: cfg.FrontendDistDir,
		Version:         Version,
		Logger:          logger,
	}
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		for _, v := range a.views {
			v.Close()
		}
		a.clients.Close()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("console server starting",
			"addr", a.cfg.HTTP.Addr,
			"api", a.cfg.API.BaseURL,
			"session_store", a.cfg.Session.Store,
			"signed_in", a.clients.Store.Authenticated(),
		)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
