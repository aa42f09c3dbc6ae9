package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Storage keys. LegacyKey is the pre-consolidation auth blob; it is migrated
// into TokenKey/ProfileKey by Open and then removed.
const (
	TokenKey   = "token"
	ProfileKey = "user"
	LegacyKey  = "authData"
)

var ErrEmptyToken = errors.New("session token must not be empty")

// Profile is the cached snapshot of the signed-in operator.
type Profile struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles"`
	Level       int      `json:"level,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Bio         string   `json:"bio,omitempty"`
}

func (p Profile) Clone() Profile {
	p.Roles = append([]string(nil), p.Roles...)
	return p
}

// State is the whole session as one value.
type State struct {
	Token     string
	Profile   *Profile
	UpdatedAt time.Time
}

// Store owns the bearer token and the cached profile. Every dispatcher call
// reads it; only login, logout, refresh and 401 handling write it.
type Store struct {
	kv      KV
	log     *slog.Logger
	nowFunc func() time.Time

	mu    sync.RWMutex
	state State

	lmu       sync.Mutex
	listeners []Listener
}

// Listener observes a committed session change. It runs after the write is
// persisted and outside the store lock, so it may call back into the store.
type Listener func(prev, next State)

// OnChange registers fn for every later token or profile change.
func (s *Store) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Store) notify(prev, next State) {
	s.lmu.Lock()
	ls := slices.Clone(s.listeners)
	s.lmu.Unlock()
	for _, fn := range ls {
		fn(prev, next)
	}
}

// IdentityChanged reports whether a change signed someone in or out, or
// replaced the cached operator with a different one. Token refreshes for the
// same operator and profile edits are not identity changes.
func IdentityChanged(prev, next State) bool {
	if (prev.Token == "") != (next.Token == "") {
		return true
	}
	if prev.Profile == nil || next.Profile == nil {
		return false
	}
	return prev.Profile.ID != next.Profile.ID || !strings.EqualFold(prev.Profile.Username, next.Profile.Username)
}

// Open loads the persisted session from kv, migrating the legacy key if the
// current keys are absent.
func Open(ctx context.Context, kv KV, log *slog.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("session storage is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Store{kv: kv, log: log, nowFunc: time.Now}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	token, _, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return fmt.Errorf("load session token: %w", err)
	}
	token = strings.TrimSpace(token)

	var profile *Profile
	raw, ok, err := s.kv.Get(ctx, ProfileKey)
	if err != nil {
		return fmt.Errorf("load session profile: %w", err)
	}
	if ok && raw != "" {
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.log.Warn("dropping unreadable cached profile", "error", err)
		} else {
			profile = &p
		}
	}

	if token == "" {
		migrated, err := s.migrateLegacy(ctx)
		if err != nil {
			return err
		}
		if migrated.Token != "" {
			token = migrated.Token
			if migrated.Profile != nil {
				profile = migrated.Profile
			}
		}
	}

	s.mu.Lock()
	s.state = State{Token: token, Profile: profile, UpdatedAt: s.nowFunc()}
	s.mu.Unlock()
	return nil
}

type legacyAuthData struct {
	Token       string   `json:"token"`
	AccessToken string   `json:"accessToken"`
	User        *Profile `json:"user"`
}

// migrateLegacy rewrites the legacy blob under the current keys once. A blob
// that carries no token (a bare logged-in flag) is dropped.
func (s *Store) migrateLegacy(ctx context.Context) (State, error) {
	raw, ok, err := s.kv.Get(ctx, LegacyKey)
	if err != nil {
		return State{}, fmt.Errorf("load legacy session: %w", err)
	}
	if !ok {
		return State{}, nil
	}

	st := decodeLegacy(raw)
	if st.Token != "" {
		if err := s.kv.Set(ctx, TokenKey, st.Token); err != nil {
			return State{}, fmt.Errorf("migrate legacy token: %w", err)
		}
		if st.Profile != nil {
			b, err := json.Marshal(st.Profile)
			if err != nil {
				return State{}, fmt.Errorf("encode legacy profile: %w", err)
			}
			if err := s.kv.Set(ctx, ProfileKey, string(b)); err != nil {
				return State{}, fmt.Errorf("migrate legacy profile: %w", err)
			}
		}
		s.log.Info("migrated legacy session storage")
	} else {
		s.log.Info("dropped legacy session flag without token")
	}
	if err := s.kv.Delete(ctx, LegacyKey); err != nil {
		return State{}, fmt.Errorf("remove legacy session: %w", err)
	}
	return st, nil
}

func decodeLegacy(raw string) State {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}
	}
	var data legacyAuthData
	if err := json.Unmarshal([]byte(raw), &data); err == nil {
		token := strings.TrimSpace(data.Token)
		if token == "" {
			token = strings.TrimSpace(data.AccessToken)
		}
		return State{Token: token, Profile: data.User}
	}
	// Older builds stored a JSON string or a bare boolean flag.
	var str string
	if err := json.Unmarshal([]byte(raw), &str); err == nil {
		raw = strings.TrimSpace(str)
	}
	switch strings.ToLower(raw) {
	case "", "true", "false", "1", "0":
		return State{}
	}
	return State{Token: raw}
}

// SetToken persists a new bearer token.
func (s *Store) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	if err := s.kv.Set(ctx, TokenKey, token); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist session token: %w", err)
	}
	prev := s.copyLocked()
	s.state.Token = token
	s.state.UpdatedAt = s.nowFunc()
	next := s.copyLocked()
	s.mu.Unlock()

	s.notify(prev, next)
	return nil
}

// Token returns the current bearer token, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

func (s *Store) SetProfile(ctx context.Context, p Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	s.mu.Lock()
	if err := s.kv.Set(ctx, ProfileKey, string(b)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist profile: %w", err)
	}
	prev := s.copyLocked()
	cp := p.Clone()
	s.state.Profile = &cp
	s.state.UpdatedAt = s.nowFunc()
	next := s.copyLocked()
	s.mu.Unlock()

	s.notify(prev, next)
	return nil
}

func (s *Store) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Profile == nil {
		return Profile{}, false
	}
	return s.state.Profile.Clone(), true
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() State {
	st := s.state
	if st.Profile != nil {
		cp := st.Profile.Clone()
		st.Profile = &cp
	}
	return st
}

// Clear removes the token and profile. Safe to call when already signed out.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	prev := s.copyLocked()
	err := s.clearLocked(ctx)
	next := s.copyLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if prev.Token != "" || prev.Profile != nil {
		s.notify(prev, next)
	}
	return nil
}

// Expire clears the session only if token is still the current token. It
// reports whether this call did the clearing, so a burst of 401s for one
// token clears storage exactly once.
func (s *Store) Expire(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	if token == "" || s.state.Token != token {
		s.mu.Unlock()
		return false, nil
	}
	prev := s.copyLocked()
	if err := s.clearLocked(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	next := s.copyLocked()
	s.mu.Unlock()

	s.notify(prev, next)
	return true, nil
}

func (s *Store) clearLocked(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey, ProfileKey, LegacyKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.state = State{UpdatedAt: s.nowFunc()}
	return nil
}
