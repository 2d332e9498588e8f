package store

import (
	"context"
	"errors"
	"time"

	"canvas/api/internal/workspace"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	Name            string
	Bio             string
	Banner          string
	Avatar          string
	EncryptedAPIKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProfileUpdate overwrites Name and any non-nil optional field.
type ProfileUpdate struct {
	Name   string
	Bio    *string
	Banner *string
	Avatar *string
}

type UserStore interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (User, error)
	SetUserAPIKey(ctx context.Context, id, encrypted string) error
}

// WorkspaceStore scopes every operation by owner. A workspace owned by
// someone else is reported as ErrNotFound.
type WorkspaceStore interface {
	ListWorkspaces(ctx context.Context, userID string) ([]workspace.Workspace, error)
	CreateWorkspace(ctx context.Context, ws workspace.Workspace) (workspace.Workspace, error)
	GetWorkspace(ctx context.Context, id, userID string) (workspace.Workspace, error)
	UpdateWorkspace(ctx context.Context, id, userID string, patch workspace.Patch, now time.Time) (workspace.Workspace, error)
	DeleteWorkspace(ctx context.Context, id, userID string) error
}

// Store is everything the API needs from persistence.
type Store interface {
	UserStore
	WorkspaceStore
	Ping(ctx context.Context) error
}
