package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/api"
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "/relative"})
	assert.Error(t, err)
}

func TestDoAttachesBearerToken(t *testing.T) {
	var gotAuth, gotPath, gotQuery, gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotRequestID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, Config{Tokens: staticToken("tok-1")})

	payload, err := c.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/game-rooms",
		Query:  map[string][]string{"page": {"2"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(payload))
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "/api/game-rooms", gotPath)
	assert.Equal(t, "page=2", gotQuery)
	assert.NotEmpty(t, gotRequestID)
}

func TestDoSendsWithoutTokenAndNoAuthorizationHeader(t *testing.T) {
	var calls atomic.Int32
	var hadAuth atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, ok := r.Header["Authorization"]
		hadAuth.Store(ok)
		w.WriteHeader(http.StatusUnauthorized)
	}, Config{Tokens: staticToken("")})

	_, err := c.Do(context.Background(), Request{Path: "/admin/users"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "request must still be sent")
	assert.False(t, hadAuth.Load())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDoEncodesJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["username"]})
	}, Config{})

	var out struct {
		Echo string `json:"echo"`
	}
	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		JSON:   map[string]string{"username": "admin"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "admin", out.Echo)
}

func TestDoMultipartOnlyProvidedParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		assert.True(t, strings.HasPrefix(ct, "multipart/form-data; boundary="), "content type %q", ct)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, []string{"hello"}, r.MultipartForm.Value["bio"])
		_, hasAvatar := r.MultipartForm.File["avatar"]
		assert.False(t, hasAvatar)
		_, hasAvatarValue := r.MultipartForm.Value["avatar"]
		assert.False(t, hasAvatarValue)
		w.WriteHeader(http.StatusNoContent)
	}, Config{})

	payload, err := c.Do(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/auth/profile",
		Form:   NewMultipart().Field("bio", "hello"),
		Header: http.Header{"Content-Type": {"application/json"}},
	})
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestDoMultipartFilePart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["avatar"]
		require.Len(t, files, 1)
		assert.Equal(t, "me.png", files[0].Filename)
		w.WriteHeader(http.StatusOK)
	}, Config{})

	form := NewMultipart().File("avatar", "me.png", strings.NewReader("png-bytes"))
	assert.True(t, form.Has("avatar"))
	_, err := c.Do(context.Background(), Request{Method: http.MethodPut, Path: "/auth/profile", Form: form})
	require.NoError(t, err)
}

func TestDoRejectsJSONAndFormTogether(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("request must not be sent")
	}, Config{})
	_, err := c.Do(context.Background(), Request{JSON: map[string]string{}, Form: NewMultipart()})
	assert.Error(t, err)
}

func TestDoNonJSONBodyIsNilPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OK")
	}, Config{})

	payload, err := c.Do(context.Background(), Request{Path: "/healthz"})
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestDoErrorMessageFromPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"room not found"}`)
	}, Config{})

	_, err := c.Do(context.Background(), Request{Path: "/game-rooms/r-1"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, KindNotFound, apiErr.Kind)
	assert.Equal(t, "room not found", apiErr.Message)
	assert.JSONEq(t, `{"message":"room not found"}`, string(apiErr.Data))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrServer)
}

func TestDoGenericMessageWithoutPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}, Config{})

	_, err := c.Do(context.Background(), Request{Path: "/leaderboard"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "HTTP 502", apiErr.Message)
	assert.Equal(t, KindServer, apiErr.Kind)
	assert.Nil(t, apiErr.Data)
	assert.Equal(t, serverMessage, UserMessage(err))
}

func TestDoOKFalseEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"message":"room is locked","data":{"id":"r-1"}}`)
	}, Config{})

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/game-rooms/r-1/close"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusOK, apiErr.Status)
	assert.Equal(t, KindRejected, apiErr.Kind)
	assert.Equal(t, "room is locked", apiErr.Message)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestDoOKTrueEnvelopeSucceeds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"data":{"id":"r-1"}}`)
	}, Config{})
	payload, err := c.Do(context.Background(), Request{Path: "/game-rooms/r-1"})
	require.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestDoValidationFieldErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"invalid input","errors":{"email":["is invalid"],"password":"too short"}}`)
	}, Config{})

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/register"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, map[string]string{"email": "is invalid", "password": "too short"}, FieldErrors(err))
	assert.Equal(t, "invalid input", UserMessage(err))
}

func TestDoValidationFieldErrorList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"errors":[{"field":"username","message":"required"}]}`)
	}, Config{})

	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/register"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, map[string]string{"username": "required"}, FieldErrors(err))
	assert.Equal(t, "HTTP 422", UserMessage(err))
}

func TestDoTimeoutIsNetworkError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Do(context.Background(), Request{Path: "/game-sessions"})
	assert.Less(t, time.Since(start), time.Second)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindNetwork, apiErr.Kind)
	assert.Equal(t, 0, apiErr.Status)
	assert.Equal(t, networkMessage, UserMessage(err))
}

func TestDoTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Path: "/game-rooms"})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDoUnauthorizedNotifiesWithRequestToken(t *testing.T) {
	var notified []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"token expired"}`)
	}, Config{
		Tokens: staticToken("tok-old"),
		OnUnauthorized: func(_ context.Context, token string) {
			notified = append(notified, token)
		},
	})

	_, err := c.Do(context.Background(), Request{Path: "/auth/me"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, []string{"tok-old"}, notified)
}

func TestDoForbiddenDoesNotNotify(t *testing.T) {
	notified := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, Config{
		Tokens:         staticToken("tok"),
		OnUnauthorized: func(context.Context, string) { notified = true },
	})

	_, err := c.Do(context.Background(), Request{Path: "/admin/users"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, notified)
}

func TestDoOversizedBodyIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":"u-1"},{"id":"u-2"},{"id":"u-3"}],"total":3}`)
	}, Config{MaxResponseBytes: 32})

	payload, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/admin/users"})
	require.Error(t, err)
	assert.Nil(t, payload)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindUnexpected, apiErr.Kind)
	assert.Equal(t, http.StatusOK, apiErr.Status)
}

func TestDoBodyAtCapIsAccepted(t *testing.T) {
	const body = `{"data":[],"total":0}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}, Config{MaxResponseBytes: int64(len(body))})

	payload, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/admin/users"})
	require.NoError(t, err)
	assert.JSONEq(t, body, string(payload))
}
