package resource

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/session"
)

func strPtr(s string) *string { return &s }

func TestLoginStoresTokenAndProfile(t *testing.T) {
	store := newStore(t)
	api := &fakeDispatcher{doFn: respond(`{"ok":true,"data":{"token":"tok-1","user":{"id":"u-1","username":"admin","role":"ADMIN"}}}`)}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	res, err := auth.Login(context.Background(), Credentials{Username: " admin ", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, []string{"ADMIN"}, res.Profile.Roles)

	assert.Equal(t, "tok-1", store.Token())
	p, ok := store.Profile()
	require.True(t, ok)
	assert.Equal(t, "admin", p.Username)

	req := api.last(t)
	assert.Equal(t, "/auth/login", req.Path)
	assert.Equal(t, Credentials{Username: "admin", Password: "pw"}, req.JSON)
}

func TestLoginWithoutTokenLeavesStoreEmpty(t *testing.T) {
	store := newStore(t)
	auth, err := NewAuthClient(&fakeDispatcher{doFn: respond(`{"user":{"id":"u-1"}}`)}, store, nil)
	require.NoError(t, err)

	_, err = auth.Login(context.Background(), Credentials{Username: "admin", Password: "pw"})
	assert.ErrorIs(t, err, apiclient.ErrUnexpected)
	assert.False(t, store.Authenticated())
}

func TestLoginFailurePropagates(t *testing.T) {
	store := newStore(t)
	wantErr := &apiclient.Error{Status: 401, Kind: apiclient.KindUnauthorized, Message: "bad credentials"}
	auth, err := NewAuthClient(&fakeDispatcher{doFn: func(context.Context, apiclient.Request) (json.RawMessage, error) {
		return nil, wantErr
	}}, store, nil)
	require.NoError(t, err)

	_, err = auth.Login(context.Background(), Credentials{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.False(t, store.Authenticated())
}

func TestLoginRequiresCredentials(t *testing.T) {
	api := &fakeDispatcher{}
	auth, err := NewAuthClient(api, newStore(t), nil)
	require.NoError(t, err)
	_, err = auth.Login(context.Background(), Credentials{Username: "  "})
	assert.Error(t, err)
	assert.Equal(t, 0, api.count())
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	store := newStore(t)
	auth, err := NewAuthClient(&fakeDispatcher{doFn: respond(`{"user":{"id":"u-5","username":"newbie","roles":["player"]}}`)}, store, nil)
	require.NoError(t, err)

	p, err := auth.Register(context.Background(), Registration{Username: "newbie", Email: "n@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u-5", p.ID)
	assert.False(t, store.Authenticated())
}

func TestMeCollapsesConcurrentCalls(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	api := &fakeDispatcher{doFn: func(context.Context, apiclient.Request) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"id":"u-1","username":"admin","roles":["staff"]}`), nil
	}}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]session.Profile, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := auth.Me(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	// Let the goroutines pile up behind the first request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, api.count())
	for _, p := range results {
		assert.Equal(t, "admin", p.Username)
	}
	cached, ok := store.Profile()
	require.True(t, ok)
	assert.Equal(t, []string{"staff"}, cached.Roles)
}

func TestMeSurvivesFirstCallerCancelling(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	api := &fakeDispatcher{doFn: func(ctx context.Context, _ apiclient.Request) (json.RawMessage, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"id":"u-1","username":"admin"}`), nil
	}}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := auth.Me(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return api.count() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	var got session.Profile
	go func() {
		p, err := auth.Me(context.Background())
		got = p
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, "admin", got.Username)
	assert.Equal(t, 1, api.count(), "the second caller joined the shared request")
}

func TestRefreshStoresNewToken(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SetToken(context.Background(), "tok-old"))
	auth, err := NewAuthClient(&fakeDispatcher{doFn: respond(`{"data":{"accessToken":"tok-new"}}`)}, store, nil)
	require.NoError(t, err)

	token, err := auth.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)
	assert.Equal(t, "tok-new", store.Token())
}

func TestLogoutClearsEvenWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetToken(ctx, "tok-1"))
	require.NoError(t, store.SetProfile(ctx, session.Profile{ID: "u-1"}))

	api := &fakeDispatcher{doFn: func(context.Context, apiclient.Request) (json.RawMessage, error) {
		return nil, &apiclient.Error{Kind: apiclient.KindNetwork, Message: "offline", Err: errors.New("dial")}
	}}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx))
	assert.Equal(t, 1, api.count())
	assert.False(t, store.Authenticated())
	_, ok := store.Profile()
	assert.False(t, ok)

	// Already signed out: no backend call.
	require.NoError(t, auth.Logout(ctx))
	assert.Equal(t, 1, api.count())
}

func TestChangePassword(t *testing.T) {
	api := &fakeDispatcher{}
	auth, err := NewAuthClient(api, newStore(t), nil)
	require.NoError(t, err)

	require.NoError(t, auth.ChangePassword(context.Background(), "old", "new"))
	req := api.last(t)
	assert.Equal(t, "PUT", req.Method)
	assert.Equal(t, "/auth/password", req.Path)

	assert.Error(t, auth.ChangePassword(context.Background(), "old", ""))
	assert.Equal(t, 1, api.count())
}

func TestUpdateProfileOnlyBio(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetProfile(ctx, session.Profile{ID: "u-1", Username: "admin", Bio: "old"}))
	api := &fakeDispatcher{}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	p, err := auth.UpdateProfile(ctx, ProfileUpdate{Bio: strPtr("new bio")})
	require.NoError(t, err)

	req := api.last(t)
	require.NotNil(t, req.Form)
	assert.Nil(t, req.JSON)
	assert.True(t, req.Form.Has("bio"))
	assert.False(t, req.Form.Has("avatar"))
	assert.False(t, req.Form.Has("display_name"))
	assert.Equal(t, 1, req.Form.Len())

	assert.Equal(t, "new bio", p.Bio)
	cached, _ := store.Profile()
	assert.Equal(t, "new bio", cached.Bio)
	assert.Equal(t, "admin", cached.Username)
}

func TestUpdateProfileWithAvatarUsesResponse(t *testing.T) {
	store := newStore(t)
	api := &fakeDispatcher{doFn: respond(`{"user":{"id":"u-1","username":"admin","avatar_url":"/a/u-1.png","display_name":"Boss"}}`)}
	auth, err := NewAuthClient(api, store, nil)
	require.NoError(t, err)

	p, err := auth.UpdateProfile(context.Background(), ProfileUpdate{
		DisplayName: strPtr("Boss"),
		Avatar:      &File{Name: "me.png", Content: strings.NewReader("img")},
	})
	require.NoError(t, err)
	req := api.last(t)
	assert.True(t, req.Form.Has("avatar"))
	assert.True(t, req.Form.Has("display_name"))
	assert.False(t, req.Form.Has("bio"))
	assert.Equal(t, "/a/u-1.png", p.AvatarURL)
}

func TestUpdateProfileRejectsEmptyUpdate(t *testing.T) {
	api := &fakeDispatcher{}
	auth, err := NewAuthClient(api, newStore(t), nil)
	require.NoError(t, err)
	_, err = auth.UpdateProfile(context.Background(), ProfileUpdate{Avatar: &File{Name: "x"}})
	assert.ErrorIs(t, err, ErrNoProfileChanges)
	assert.Equal(t, 0, api.count())
}

func TestDeleteAccountClearsOnSuccessOnly(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetToken(ctx, "tok-1"))

	failing := &fakeDispatcher{doFn: func(context.Context, apiclient.Request) (json.RawMessage, error) {
		return nil, &apiclient.Error{Status: 400, Kind: apiclient.KindValidation, Message: "wrong password"}
	}}
	auth, err := NewAuthClient(failing, store, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, auth.DeleteAccount(ctx, "bad"), apiclient.ErrValidation)
	assert.True(t, store.Authenticated())

	ok := &fakeDispatcher{}
	auth, err = NewAuthClient(ok, store, nil)
	require.NoError(t, err)
	require.NoError(t, auth.DeleteAccount(ctx, "pw"))
	assert.Equal(t, "DELETE", ok.last(t).Method)
	assert.False(t, store.Authenticated())
}
