// Package guard decides whether the operator may see a view and reacts to
// backend 401s by expiring the local session.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"arcadeops/admin-console/internal/observability"
	"arcadeops/admin-console/internal/session"
)

type Decision int

const (
	Allow Decision = iota
	// RedirectLogin means no token is present.
	RedirectLogin
	// AccessDenied means a token is present but the profile lacks an admin role.
	AccessDenied
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	default:
		return "access_denied"
	}
}

var DefaultAdminRoles = []string{"ADMIN", "staff"}

const DefaultLoginPath = "/login"

// Session is the slice of the Token Store the guard reads.
type Session interface {
	Token() string
	Profile() (session.Profile, bool)
	Expire(ctx context.Context, token string) (bool, error)
}

type Options struct {
	AdminRoles []string
	LoginPath  string
	Logger     *slog.Logger
	// OnExpired runs once per token the backend rejected.
	OnExpired func(ctx context.Context, p session.Profile)
}

type Guard struct {
	sess      Session
	roles     []string
	loginPath string
	log       *slog.Logger
	onExpired func(ctx context.Context, p session.Profile)
}

func New(sess Session, opts Options) (*Guard, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	roles := make([]string, 0, len(opts.AdminRoles))
	for _, r := range opts.AdminRoles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, DefaultAdminRoles...)
	}
	loginPath := strings.TrimSpace(opts.LoginPath)
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	log := opts.Logger
	if log == nil {
		log = observability.Discard()
	}
	return &Guard{sess: sess, roles: roles, loginPath: loginPath, log: log, onExpired: opts.OnExpired}, nil
}

// Check decides access to a view. A non-empty token is the only
// authentication signal; admin views also need an allow-listed role.
func (g *Guard) Check(requireAdmin bool) Decision {
	if g.sess.Token() == "" {
		return RedirectLogin
	}
	if !requireAdmin {
		return Allow
	}
	p, ok := g.sess.Profile()
	if !ok || !g.IsAdmin(p.Roles) {
		return AccessDenied
	}
	return Allow
}

// IsAdmin reports whether roles intersect the allow-list, ignoring case.
func (g *Guard) IsAdmin(roles []string) bool {
	for _, have := range roles {
		have = strings.TrimSpace(have)
		for _, want := range g.roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// HandleUnauthorized is the dispatcher's 401 hook. Concurrent 401s for the
// same token clear the session once.
func (g *Guard) HandleUnauthorized(ctx context.Context, token string) {
	p, _ := g.sess.Profile()
	cleared, err := g.sess.Expire(ctx, token)
	if err != nil {
		g.log.ErrorContext(ctx, "expire session failed", "error", err)
		return
	}
	if !cleared {
		return
	}
	g.log.InfoContext(ctx, "session expired by backend", "username", p.Username)
	if g.onExpired != nil {
		g.onExpired(ctx, p)
	}
}

// LoginURL is the login entry point with next set to the requested path.
func (g *Guard) LoginURL(next string) string {
	if next == "" || next == g.loginPath {
		return g.loginPath
	}
	return g.loginPath + "?next=" + url.QueryEscape(next)
}

// Require gates next. API requests get JSON 401/403 bodies; browser
// requests are redirected to login or shown an access-denied page.
func (g *Guard) Require(requireAdmin bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch g.Check(requireAdmin) {
		case Allow:
			next.ServeHTTP(w, r)
		case RedirectLogin:
			if wantsJSON(r) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":     "authentication required",
					"login_url": g.LoginURL(""),
				})
				return
			}
			http.Redirect(w, r, g.LoginURL(r.URL.RequestURI()), http.StatusFound)
		default:
			if wantsJSON(r) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
				return
			}
			http.Error(w, "access denied", http.StatusForbidden)
		}
	})
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/v1/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
