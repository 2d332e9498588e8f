package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvas/api/internal/workspace"
)

// MemoryStore keeps users and workspaces in process. It backs tests and
// DATABASE_URL=memory development runs.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]User
	emails     map[string]string
	workspaces map[string]workspace.Workspace
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		emails:     make(map[string]string),
		workspaces: make(map[string]workspace.Workspace),
		now:        time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := s.emails[email]; exists {
		return User{}, ErrConflict
	}
	now := s.now().UTC()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	s.emails[email] = user.ID
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) UpdateUserProfile(_ context.Context, id string, update ProfileUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	user.Name = update.Name
	if update.Bio != nil {
		user.Bio = strings.TrimSpace(*update.Bio)
	}
	if update.Banner != nil {
		user.Banner = strings.TrimSpace(*update.Banner)
	}
	if update.Avatar != nil {
		user.Avatar = strings.TrimSpace(*update.Avatar)
	}
	user.UpdatedAt = s.now().UTC()
	s.users[id] = user
	return user, nil
}

func (s *MemoryStore) SetUserAPIKey(_ context.Context, id, encrypted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.EncryptedAPIKey = encrypted
	user.UpdatedAt = s.now().UTC()
	s.users[id] = user
	return nil
}

func (s *MemoryStore) ListWorkspaces(_ context.Context, userID string) ([]workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]workspace.Workspace, 0)
	for _, ws := range s.workspaces {
		if ws.UserID == userID {
			items = append(items, ws.Clone())
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastActive.Equal(items[j].LastActive) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].LastActive.After(items[j].LastActive)
	})
	return items, nil
}

func (s *MemoryStore) CreateWorkspace(_ context.Context, ws workspace.Workspace) (workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workspaces[ws.ID]; exists {
		return workspace.Workspace{}, ErrConflict
	}
	stored := ws.Clone()
	s.workspaces[ws.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id, userID string) (workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok || ws.UserID != userID {
		return workspace.Workspace{}, ErrNotFound
	}
	return ws.Clone(), nil
}

func (s *MemoryStore) UpdateWorkspace(_ context.Context, id, userID string, patch workspace.Patch, now time.Time) (workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok || ws.UserID != userID {
		return workspace.Workspace{}, ErrNotFound
	}
	updated := patch.Apply(ws, now)
	s.workspaces[id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) DeleteWorkspace(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok || ws.UserID != userID {
		return ErrNotFound
	}
	delete(s.workspaces, id)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
