package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"arcadeops/admin-console/internal/audit"
	"arcadeops/admin-console/internal/config"
	"arcadeops/admin-console/internal/guard"
	"arcadeops/admin-console/internal/listview"
	"arcadeops/admin-console/internal/observability"
	"arcadeops/admin-console/internal/resource"
	"arcadeops/admin-console/internal/session"
)

const maxJSONBody = 1 << 20

type AuthService interface {
	Login(ctx context.Context, creds resource.Credentials) (resource.LoginResult, error)
	Register(ctx context.Context, reg resource.Registration) (session.Profile, error)
	Me(ctx context.Context) (session.Profile, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, current, next string) error
	UpdateProfile(ctx context.Context, u resource.ProfileUpdate) (session.Profile, error)
	DeleteAccount(ctx context.Context, password string) error
}

type UserService interface {
	Get(ctx context.Context, id string) (resource.User, error)
	Ban(ctx context.Context, id, reason string) error
	Unban(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type RoomService interface {
	Get(ctx context.Context, id string) (resource.GameRoom, error)
	Close(ctx context.Context, id string) error
}

type SessionService interface {
	Get(ctx context.Context, id string) (resource.GameSession, error)
	Stats(ctx context.Context) (resource.SessionStats, error)
}

type LeaderboardService interface {
	Player(ctx context.Context, userID string) (resource.LeaderboardEntry, error)
}

// Guard gates routes on the local session.
type Guard interface {
	Require(requireAdmin bool, next http.Handler) http.Handler
	IsAdmin(roles []string) bool
}

// Session is the read side of the Token Store.
type Session interface {
	Authenticated() bool
	Profile() (session.Profile, bool)
}

type AuditLogger interface {
	Log(e audit.Event) error
	Tail(n int) ([]audit.Event, error)
}

type Deps struct {
	Auth            AuthService
	Users           UserService
	Rooms           RoomService
	Sessions        SessionService
	Leaderboard     LeaderboardService
	Views           map[string]listview.View
	Guard           Guard
	Session         Session
	Audit           AuditLogger
	Navigation      *Navigation
	FrontendDistDir string
	Version         string
	Logger          *slog.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	log := deps.Logger
	if log == nil {
		log = observability.Discard()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(log, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	if deps.Navigation == nil {
		deps.Navigation = NewNavigation()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Auth == nil || deps.Guard == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		views := make([]string, 0, len(deps.Views))
		for name := range deps.Views {
			views = append(views, name)
		}
		sort.Strings(views)
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "arcadeops-admin-console",
			"version": deps.Version,
			"views":   views,
		})
	})

	registerAuthHandlers(mux, deps)
	registerViewHandlers(mux, deps)
	registerAdminHandlers(mux, deps)
	registerNavigationHandlers(mux, deps)
	registerFrontendHandlers(mux, deps)

	return mux
}

// protect wraps h in the guard, answering 503 when none is wired.
func protect(deps Deps, requireAdmin bool, h http.HandlerFunc) http.Handler {
	if deps.Guard == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "session guard unavailable")
		})
	}
	return deps.Guard.Require(requireAdmin, h)
}

func registerFrontendHandlers(mux *http.ServeMux, deps Deps) {
	distDir := strings.TrimSpace(deps.FrontendDistDir)
	if distDir == "" {
		return
	}
	indexPath := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		return
	}

	fileServer := http.FileServer(http.Dir(distDir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(r.URL.Path)
		if cleanPath == "." || cleanPath == "/" {
			http.ServeFile(w, r, indexPath)
			return
		}

		fullPath := filepath.Join(distDir, strings.TrimPrefix(cleanPath, "/"))
		info, err := os.Stat(fullPath)
		if err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		// SPA fallback.
		http.ServeFile(w, r, indexPath)
	})
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads an optional JSON body. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

func methodAllowed(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("console request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func actorName(deps Deps) string {
	if deps.Session == nil {
		return ""
	}
	p, ok := deps.Session.Profile()
	if !ok {
		return ""
	}
	return p.Username
}

func auditReq(deps Deps, r *http.Request, actor, action, target, outcome, detail string) {
	if deps.Audit == nil {
		return
	}
	parts := []string{"ip=" + clientIP(r)}
	if detail = strings.TrimSpace(detail); detail != "" {
		parts = append(parts, "detail="+detail)
	}
	_ = deps.Audit.Log(audit.Event{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Detail:    strings.Join(parts, " | "),
		RequestID: requestIDFromContext(r.Context()),
	})
}

var _ Guard = (*guard.Guard)(nil)
