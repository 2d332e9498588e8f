package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"canvas/api/internal/client"
)

type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// View is the screen shown while anonymous.
type View int

const (
	ViewLanding View = iota
	ViewSigningIn
	ViewSigningUp
)

func (v View) String() string {
	switch v {
	case ViewSigningIn:
		return "sign-in"
	case ViewSigningUp:
		return "sign-up"
	default:
		return "landing"
	}
}

// Cache persists the last good session between runs.
type Cache interface {
	Load() (client.Session, bool)
	Save(client.Session) error
	Clear() error
}

// Authenticator is the part of the API client the machine drives.
type Authenticator interface {
	SetToken(token string)
	Verify(ctx context.Context) (client.User, error)
	SignIn(ctx context.Context, email, password string) (client.Session, error)
	SignUp(ctx context.Context, email, password, name string) (client.Session, error)
}

// AuthMachine tracks whether the shell has a usable session.
type AuthMachine struct {
	api   Authenticator
	cache Cache
	log   zerolog.Logger

	mu       sync.Mutex
	state    State
	view     View
	user     client.User
	onChange func(State, View)
}

func NewAuthMachine(api Authenticator, cache Cache, log zerolog.Logger) *AuthMachine {
	if cache == nil {
		cache = &MemoryCache{}
	}
	return &AuthMachine{api: api, cache: cache, log: log}
}

// OnChange registers fn to be called after every transition.
func (m *AuthMachine) OnChange(fn func(State, View)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *AuthMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *AuthMachine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *AuthMachine) User() client.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Start restores a cached session. A cached token is trusted until the
// server rejects it; an unreachable server keeps the session.
func (m *AuthMachine) Start(ctx context.Context) State {
	session, ok := m.cache.Load()
	if !ok || session.Token == "" {
		m.transition(StateAnonymous, ViewLanding, client.User{})
		return StateAnonymous
	}

	m.api.SetToken(session.Token)
	m.transition(StateAuthenticated, ViewLanding, session.User)

	user, err := m.api.Verify(ctx)
	switch {
	case err == nil:
		session.User = user
		m.save(session)
		m.transition(StateAuthenticated, ViewLanding, user)
	case client.IsUnauthorized(err):
		m.log.Info().Msg("cached session rejected")
		m.clear()
		m.transition(StateAnonymous, ViewLanding, client.User{})
	default:
		m.log.Warn().Err(err).Msg("session check failed; keeping cached session")
	}
	return m.State()
}

func (m *AuthMachine) ShowSignIn()  { m.showView(ViewSigningIn) }
func (m *AuthMachine) ShowSignUp()  { m.showView(ViewSigningUp) }
func (m *AuthMachine) ShowLanding() { m.showView(ViewLanding) }

func (m *AuthMachine) showView(v View) {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.transition(StateAnonymous, v, client.User{})
}

func (m *AuthMachine) SignIn(ctx context.Context, email, password string) error {
	session, err := m.api.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	m.adopt(session)
	return nil
}

func (m *AuthMachine) SignUp(ctx context.Context, email, password, name string) error {
	session, err := m.api.SignUp(ctx, email, password, name)
	if err != nil {
		return err
	}
	m.adopt(session)
	return nil
}

// SetUser replaces the signed-in identity, for example after a profile
// edit, and refreshes the cache. It is ignored without a session.
func (m *AuthMachine) SetUser(user client.User) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	m.user = user
	m.mu.Unlock()

	if session, ok := m.cache.Load(); ok {
		session.User = user
		m.save(session)
	}
}

// Logout forgets the session and returns to the landing view.
func (m *AuthMachine) Logout() {
	m.api.SetToken("")
	m.clear()
	m.transition(StateAnonymous, ViewLanding, client.User{})
}

func (m *AuthMachine) adopt(session client.Session) {
	m.api.SetToken(session.Token)
	m.save(session)
	m.transition(StateAuthenticated, ViewLanding, session.User)
}

func (m *AuthMachine) save(session client.Session) {
	if err := m.cache.Save(session); err != nil {
		m.log.Warn().Err(err).Msg("session cache write failed")
	}
}

func (m *AuthMachine) clear() {
	if err := m.cache.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("session cache clear failed")
	}
}

func (m *AuthMachine) transition(state State, view View, user client.User) {
	m.mu.Lock()
	m.state = state
	m.view = view
	m.user = user
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(state, view)
	}
}

// MemoryCache keeps the session for the life of the process.
type MemoryCache struct {
	mu      sync.Mutex
	session *client.Session
}

func (c *MemoryCache) Load() (client.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return client.Session{}, false
	}
	return *c.session, true
}

func (c *MemoryCache) Save(s client.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &s
	return nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return nil
}

// FileCache stores the session as JSON at Path, readable only by the owner.
type FileCache struct {
	Path string
}

func (c FileCache) Load() (client.Session, bool) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return client.Session{}, false
	}
	var s client.Session
	if err := json.Unmarshal(data, &s); err != nil || s.Token == "" {
		return client.Session{}, false
	}
	return s, true
}

func (c FileCache) Save(s client.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (c FileCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
