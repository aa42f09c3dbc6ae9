package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Session storage backends accepted by SESSION_STORE.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

type Config struct {
	API             APIConfig
	HTTP            HTTPConfig
	Session         SessionConfig
	List            ListConfig
	Log             LogConfig
	FrontendDistDir string   `env:"FRONTEND_DIST_DIR" envDefault:"./web/dist"`
	AuditLogFile    string   `env:"AUDIT_LOG_FILE" envDefault:"./data/audit.log"`
	AdminRoles      []string `env:"ADMIN_ROLES" envDefault:"ADMIN,staff"`
}

type APIConfig struct {
	BaseURL        string        `env:"API_BASE_URL"`
	RequestTimeout time.Duration `env:"API_REQUEST_TIMEOUT" envDefault:"12s"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

type SessionConfig struct {
	Store          string `env:"SESSION_STORE" envDefault:"file"`
	StateFile      string `env:"SESSION_STATE_FILE" envDefault:"./data/console_session.json"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"console"`
}

type ListConfig struct {
	Debounce time.Duration `env:"LIST_DEBOUNCE" envDefault:"450ms"`
	MaxLimit int           `env:"LIST_MAX_LIMIT" envDefault:"100"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.Session.Store = strings.ToLower(strings.TrimSpace(cfg.Session.Store))
	cfg.AdminRoles = trimAll(cfg.AdminRoles)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL must not be empty")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("API_REQUEST_TIMEOUT must be > 0")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be > 0")
	}

	switch c.Session.Store {
	case StoreFile:
		if c.Session.StateFile == "" {
			return fmt.Errorf("SESSION_STATE_FILE must not be empty")
		}
	case StorePostgres:
		if c.Session.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must not be empty when SESSION_STORE=postgres")
		}
	case StoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR must not be empty when SESSION_STORE=redis")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be one of file, postgres, redis, memory")
	}

	if c.List.Debounce < 0 {
		return fmt.Errorf("LIST_DEBOUNCE must be >= 0")
	}
	if c.List.MaxLimit <= 0 {
		return fmt.Errorf("LIST_MAX_LIMIT must be > 0")
	}
	if len(c.AdminRoles) == 0 {
		return fmt.Errorf("ADMIN_ROLES must not be empty")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
