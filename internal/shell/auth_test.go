package shell

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/api/internal/client"
)

type stubAuth struct {
	token     string
	verified  int
	verifyErr error
	user      client.User
	signInErr error
}

func (s *stubAuth) SetToken(token string) { s.token = token }

func (s *stubAuth) Verify(context.Context) (client.User, error) {
	s.verified++
	if s.verifyErr != nil {
		return client.User{}, s.verifyErr
	}
	return s.user, nil
}

func (s *stubAuth) SignIn(_ context.Context, email, _ string) (client.Session, error) {
	if s.signInErr != nil {
		return client.Session{}, s.signInErr
	}
	return client.Session{Token: "signed-in", User: client.User{ID: "u1", Email: email}}, nil
}

func (s *stubAuth) SignUp(_ context.Context, email, _, name string) (client.Session, error) {
	return client.Session{Token: "signed-up", User: client.User{ID: "u2", Email: email, Name: name}}, nil
}

func cachedSession() *MemoryCache {
	c := &MemoryCache{}
	_ = c.Save(client.Session{Token: "cached", User: client.User{ID: "u1", Name: "Old Name"}})
	return c
}

func TestAuthStartWithoutSession(t *testing.T) {
	api := &stubAuth{}
	m := NewAuthMachine(api, &MemoryCache{}, zerolog.Nop())
	assert.Equal(t, StateUnknown, m.State())

	assert.Equal(t, StateAnonymous, m.Start(context.Background()))
	assert.Equal(t, ViewLanding, m.View())
	assert.Zero(t, api.verified)
}

func TestAuthStartRefreshesCachedIdentity(t *testing.T) {
	api := &stubAuth{user: client.User{ID: "u1", Name: "New Name"}}
	cache := cachedSession()
	m := NewAuthMachine(api, cache, zerolog.Nop())

	var seen []State
	m.OnChange(func(s State, _ View) { seen = append(seen, s) })

	assert.Equal(t, StateAuthenticated, m.Start(context.Background()))
	assert.Equal(t, "cached", api.token)
	assert.Equal(t, "New Name", m.User().Name)
	session, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, "New Name", session.User.Name)
	assert.Equal(t, []State{StateAuthenticated, StateAuthenticated}, seen)
}

func TestAuthStartRejectedToken(t *testing.T) {
	api := &stubAuth{verifyErr: &client.APIError{Status: 401, Code: "UNAUTHORIZED"}}
	cache := cachedSession()
	m := NewAuthMachine(api, cache, zerolog.Nop())

	var seen []State
	m.OnChange(func(s State, _ View) { seen = append(seen, s) })

	assert.Equal(t, StateAnonymous, m.Start(context.Background()))
	assert.Equal(t, ViewLanding, m.View())
	_, ok := cache.Load()
	assert.False(t, ok)
	assert.Equal(t, []State{StateAuthenticated, StateAnonymous}, seen)
}

func TestAuthStartOfflineKeepsSession(t *testing.T) {
	api := &stubAuth{verifyErr: errOffline}
	cache := cachedSession()
	m := NewAuthMachine(api, cache, zerolog.Nop())

	assert.Equal(t, StateAuthenticated, m.Start(context.Background()))
	assert.Equal(t, "Old Name", m.User().Name)
	_, ok := cache.Load()
	assert.True(t, ok)
}

func TestAuthSignInAndLogout(t *testing.T) {
	api := &stubAuth{signInErr: &client.APIError{Status: 401, Code: "INVALID_CREDENTIALS"}}
	cache := &MemoryCache{}
	m := NewAuthMachine(api, cache, zerolog.Nop())
	m.Start(context.Background())

	m.ShowSignIn()
	assert.Equal(t, ViewSigningIn, m.View())
	require.Error(t, m.SignIn(context.Background(), "a@example.com", "wrong"))
	assert.Equal(t, StateAnonymous, m.State())
	assert.Equal(t, ViewSigningIn, m.View())

	api.signInErr = nil
	require.NoError(t, m.SignIn(context.Background(), "a@example.com", "right"))
	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, "signed-in", api.token)
	session, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, "a@example.com", session.User.Email)

	m.ShowSignUp()
	assert.Equal(t, StateAuthenticated, m.State())

	m.Logout()
	assert.Equal(t, StateAnonymous, m.State())
	assert.Equal(t, ViewLanding, m.View())
	assert.Empty(t, api.token)
	_, ok = cache.Load()
	assert.False(t, ok)
}

func TestAuthSignUp(t *testing.T) {
	api := &stubAuth{}
	m := NewAuthMachine(api, nil, zerolog.Nop())
	m.ShowSignUp()
	assert.Equal(t, ViewSigningUp, m.View())

	require.NoError(t, m.SignUp(context.Background(), "b@example.com", "secret1", "Bee"))
	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, "Bee", m.User().Name)
}

func TestAuthSetUser(t *testing.T) {
	cache := &MemoryCache{}
	m := NewAuthMachine(&stubAuth{}, cache, zerolog.Nop())
	m.SetUser(client.User{ID: "u1", Name: "Ignored"})
	assert.Empty(t, m.User().ID)

	require.NoError(t, m.SignIn(context.Background(), "a@example.com", "pw"))
	m.SetUser(client.User{ID: "u1", Email: "a@example.com", Name: "Renamed"})
	assert.Equal(t, "Renamed", m.User().Name)

	session, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, "signed-in", session.Token)
	assert.Equal(t, "Renamed", session.User.Name)
}

func TestFileCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas", "session.json")
	cache := FileCache{Path: path}

	_, ok := cache.Load()
	assert.False(t, ok)
	require.NoError(t, cache.Clear())

	want := client.Session{Token: "tok", User: client.User{ID: "u1", Email: "a@example.com"}}
	require.NoError(t, cache.Save(want))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.User.Email, got.User.Email)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, ok = cache.Load()
	assert.False(t, ok)

	require.NoError(t, cache.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
