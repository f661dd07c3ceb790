// ABOUTME: SQLite persistence for registered users
// ABOUTME: Lookup by id or email plus case-insensitive search for starting chats

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateUser inserts a new user. Emails are unique.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", u.ID, "username", u.Username)
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, email, password_hash, created_at
		FROM users WHERE user_id = ?
	`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, email, password_hash, created_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	return scanUser(row)
}

// SearchUsers finds users whose username or email contains query.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, email, password_hash, created_at
		FROM users
		WHERE user_id != ?
		  AND (lower(username) LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')
		ORDER BY username
		LIMIT ?
	`, excludeID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
