package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no account matches a lookup.
var ErrNotFound = errors.New("user not found")

// Repo handles database operations for users.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepo creates a new user repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

const userColumns = `id, username, password_hash, display_name, created_at, updated_at`

// Create inserts a new user with a hashed password.
func (r *Repo) Create(ctx context.Context, username, password, displayName string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := r.now().UnixMicro()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, username, hash, displayName, now, now)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}

	return r.GetByID(ctx, id)
}

// Authenticate checks username/password and returns the user if valid.
func (r *Repo) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, fmt.Errorf("invalid password")
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (r *Repo) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *Repo) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

// LookupProfiles resolves many ids in a single query. Ids that do not
// resolve are simply absent from the result.
func (r *Repo) LookupProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, display_name FROM users WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("lookup profiles: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// Exists checks if a username is already taken.
func (r *Repo) Exists(ctx context.Context, username string) bool {
	var count int
	r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ? COLLATE NOCASE", username).Scan(&count)
	return count > 0
}

// UpdateDisplayName changes a user's public display name.
func (r *Repo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?
	`, displayName, r.now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("update display name %s: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdatePassword changes a user's password.
func (r *Repo) UpdatePassword(ctx context.Context, id string, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
	`, hash, r.now().UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("update password %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Delete removes an account. Conversations and messages that reference it
// are kept; the counterpart then sees a placeholder profile.
func (r *Repo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return requireRow(res, id)
}

// List returns all users, ordered by username.
func (r *Repo) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	u := &User{}
	var created, updated int64
	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMicro(created).UTC()
	u.UpdatedAt = time.UnixMicro(updated).UTC()
	return u, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}
