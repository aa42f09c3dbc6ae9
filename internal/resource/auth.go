package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/observability"
	"arcadeops/admin-console/internal/session"
)

// SessionStore is the slice of the Token Store the auth client writes.
type SessionStore interface {
	Token() string
	SetToken(ctx context.Context, token string) error
	SetProfile(ctx context.Context, p session.Profile) error
	Profile() (session.Profile, bool)
	Clear(ctx context.Context) error
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Registration struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type LoginResult struct {
	Token   string          `json:"token"`
	Profile session.Profile `json:"user"`
}

// File is an upload part.
type File struct {
	Name    string
	Content io.Reader
}

// ProfileUpdate carries only the fields to change. A nil field is left
// untouched by the backend.
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	Avatar      *File
}

func (u ProfileUpdate) empty() bool {
	return u.DisplayName == nil && u.Bio == nil && (u.Avatar == nil || u.Avatar.Content == nil)
}

func (u ProfileUpdate) form() *apiclient.Multipart {
	form := apiclient.NewMultipart()
	if u.DisplayName != nil {
		form.Field("display_name", *u.DisplayName)
	}
	if u.Bio != nil {
		form.Field("bio", *u.Bio)
	}
	if u.Avatar != nil && u.Avatar.Content != nil {
		name := u.Avatar.Name
		if name == "" {
			name = "avatar"
		}
		form.File("avatar", name, u.Avatar.Content)
	}
	return form
}

var ErrNoProfileChanges = errors.New("profile update has no fields")

// profileWire tolerates backends that send a single role string.
type profileWire struct {
	session.Profile
	Role string `json:"role"`
}

func (w profileWire) profile() session.Profile {
	p := w.Profile
	if len(p.Roles) == 0 && strings.TrimSpace(w.Role) != "" {
		p.Roles = []string{strings.TrimSpace(w.Role)}
	}
	return p
}

type AuthClient struct {
	api   Dispatcher
	store SessionStore
	log   *slog.Logger
	me    singleflight.Group
}

func NewAuthClient(api Dispatcher, store SessionStore, log *slog.Logger) (*AuthClient, error) {
	if api == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if log == nil {
		log = observability.Discard()
	}
	return &AuthClient{api: api, store: store, log: log}, nil
}

// Login exchanges credentials for a token and stores token and profile.
func (c *AuthClient) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return LoginResult{}, fmt.Errorf("username and password are required")
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/login", JSON: creds})
	if err != nil {
		return LoginResult{}, err
	}
	var body struct {
		Token       string      `json:"token"`
		AccessToken string      `json:"accessToken"`
		SnakeToken  string      `json:"access_token"`
		User        profileWire `json:"user"`
	}
	if err := decodeData(payload, &body); err != nil {
		return LoginResult{}, err
	}
	token := firstNonEmpty(body.Token, body.AccessToken, body.SnakeToken)
	if token == "" {
		return LoginResult{}, &apiclient.Error{Kind: apiclient.KindUnexpected, Message: "login response carried no token"}
	}
	res := LoginResult{Token: token, Profile: body.User.profile()}
	if err := c.store.SetToken(ctx, token); err != nil {
		return LoginResult{}, err
	}
	if err := c.store.SetProfile(ctx, res.Profile); err != nil {
		return LoginResult{}, err
	}
	c.log.InfoContext(ctx, "signed in", "username", res.Profile.Username)
	return res, nil
}

// Register creates an account. It does not sign the caller in.
func (c *AuthClient) Register(ctx context.Context, reg Registration) (session.Profile, error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/register", JSON: reg})
	if err != nil {
		return session.Profile{}, err
	}
	var body struct {
		User *profileWire `json:"user"`
		profileWire
	}
	if err := decodeData(payload, &body); err != nil {
		return session.Profile{}, err
	}
	if body.User != nil {
		return body.User.profile(), nil
	}
	return body.profileWire.profile(), nil
}

// Me fetches the signed-in profile and refreshes the cached copy. Concurrent
// callers share one request, which runs detached from any one caller's
// cancellation and is bounded by the dispatcher timeout. A caller whose ctx
// ends stops waiting without failing the others.
func (c *AuthClient) Me(ctx context.Context) (session.Profile, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.me.DoChan("me", func() (any, error) {
		payload, err := c.api.Do(shared, apiclient.Request{Method: http.MethodGet, Path: "/auth/me"})
		if err != nil {
			return session.Profile{}, err
		}
		var body struct {
			User *profileWire `json:"user"`
			profileWire
		}
		if err := decodeData(payload, &body); err != nil {
			return session.Profile{}, err
		}
		p := body.profileWire.profile()
		if body.User != nil {
			p = body.User.profile()
		}
		if err := c.store.SetProfile(shared, p); err != nil {
			return session.Profile{}, err
		}
		return p, nil
	})
	select {
	case <-ctx.Done():
		return session.Profile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return session.Profile{}, res.Err
		}
		return res.Val.(session.Profile).Clone(), nil
	}
}

// Refresh trades the current token for a new one.
func (c *AuthClient) Refresh(ctx context.Context) (string, error) {
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/refresh"})
	if err != nil {
		return "", err
	}
	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
	}
	if err := decodeData(payload, &body); err != nil {
		return "", err
	}
	token := firstNonEmpty(body.Token, body.AccessToken)
	if token == "" {
		return "", &apiclient.Error{Kind: apiclient.KindUnexpected, Message: "refresh response carried no token"}
	}
	if err := c.store.SetToken(ctx, token); err != nil {
		return "", err
	}
	return token, nil
}

// Logout tells the backend when a token exists, then always clears the store.
func (c *AuthClient) Logout(ctx context.Context) error {
	if c.store.Token() != "" {
		if _, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/logout"}); err != nil {
			c.log.WarnContext(ctx, "backend logout failed", "error", err)
		}
	}
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "signed out")
	return nil
}

func (c *AuthClient) ChangePassword(ctx context.Context, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("current and new password are required")
	}
	_, err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPut,
		Path:   "/auth/password",
		JSON: map[string]string{
			"current_password": current,
			"new_password":     next,
		},
	})
	return err
}

// UpdateProfile sends a multipart body holding only the provided fields and
// refreshes the cached profile.
func (c *AuthClient) UpdateProfile(ctx context.Context, u ProfileUpdate) (session.Profile, error) {
	if u.empty() {
		return session.Profile{}, ErrNoProfileChanges
	}
	payload, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPut, Path: "/auth/profile", Form: u.form()})
	if err != nil {
		return session.Profile{}, err
	}

	var updated session.Profile
	var body struct {
		User *profileWire `json:"user"`
		profileWire
	}
	if payload != nil && decodeData(payload, &body) == nil && (body.User != nil || body.ID != "") {
		updated = body.profileWire.profile()
		if body.User != nil {
			updated = body.User.profile()
		}
	} else {
		// No body: apply the change to the cached copy.
		updated, _ = c.store.Profile()
		if u.DisplayName != nil {
			updated.DisplayName = *u.DisplayName
		}
		if u.Bio != nil {
			updated.Bio = *u.Bio
		}
	}
	if err := c.store.SetProfile(ctx, updated); err != nil {
		return session.Profile{}, err
	}
	return updated, nil
}

// DeleteAccount removes the signed-in account and clears the store.
func (c *AuthClient) DeleteAccount(ctx context.Context, password string) error {
	req := apiclient.Request{Method: http.MethodDelete, Path: "/auth/account"}
	if password != "" {
		req.JSON = map[string]string{"password": password}
	}
	if _, err := c.api.Do(ctx, req); err != nil {
		return err
	}
	return c.store.Clear(ctx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
