package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"canvas/api/internal/workspace"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, password_hash, name, bio, banner, avatar, encrypted_api_key, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Bio, &user.Banner,
		&user.Avatar, &user.EncryptedAPIKey, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, name)
		VALUES (lower($1), $2, $3)
		RETURNING `+userColumns,
		user.Email, user.PasswordHash, user.Name,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = $2,
			bio = COALESCE($3, bio),
			banner = COALESCE($4, banner),
			avatar = COALESCE($5, avatar),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		id, update.Name, nullable(update.Bio), nullable(update.Banner), nullable(update.Avatar),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("update user profile: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SetUserAPIKey(ctx context.Context, id, encrypted string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET encrypted_api_key = $2, updated_at = now() WHERE id = $1`, id, encrypted)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return expectRow(result)
}

const workspaceColumns = `id, user_id, name, icon, last_active, created_at, document`

func scanWorkspace(row interface{ Scan(...any) error }) (workspace.Workspace, error) {
	var (
		ws  workspace.Workspace
		raw []byte
	)
	if err := row.Scan(&ws.ID, &ws.UserID, &ws.Name, &ws.Icon, &ws.LastActive, &ws.CreatedAt, &raw); err != nil {
		return workspace.Workspace{}, err
	}
	var doc workspace.Document
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return workspace.Workspace{}, fmt.Errorf("decode workspace %s document: %w", ws.ID, err)
		}
	}
	ws.SetDocument(doc)
	return ws, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context, userID string) ([]workspace.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE user_id = $1
		ORDER BY last_active DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]workspace.Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws workspace.Workspace) (workspace.Workspace, error) {
	doc, err := json.Marshal(ws.Document())
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("encode workspace document: %w", err)
	}
	created, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, user_id, name, icon, document, last_active, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		RETURNING `+workspaceColumns,
		ws.ID, ws.UserID, ws.Name, ws.Icon, string(doc), ws.LastActive, ws.CreatedAt,
	))
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id, userID string) (workspace.Workspace, error) {
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return workspace.Workspace{}, ErrNotFound
	}
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}

// UpdateWorkspace merges the supplied document fields into the stored JSONB
// and checks ownership in the same statement.
func (s *PostgresStore) UpdateWorkspace(ctx context.Context, id, userID string, patch workspace.Patch, now time.Time) (workspace.Workspace, error) {
	doc, err := patch.DocumentJSON()
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("encode workspace patch: %w", err)
	}
	ws, err := scanWorkspace(s.db.QueryRowContext(ctx, `
		UPDATE workspaces
		SET name = COALESCE($3, name),
			icon = COALESCE($4, icon),
			document = document || $5::jsonb,
			last_active = $6
		WHERE id = $1 AND user_id = $2
		RETURNING `+workspaceColumns,
		id, userID, nullable(patch.Name), nullable(patch.Icon), string(doc), now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return workspace.Workspace{}, ErrNotFound
	}
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("update workspace: %w", err)
	}
	return ws, nil
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*value), Valid: true}
}
