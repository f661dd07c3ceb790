// ABOUTME: SQLite persistence for refresh sessions
// ABOUTME: Tokens are stored hashed and are single-use

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRefreshSession stores a new refresh session and prunes the user's
// expired ones.
func (s *SQLiteStore) CreateRefreshSession(ctx context.Context, sess *RefreshSession) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE user_id = ? AND expires_at <= ?`,
		sess.UserID, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("pruning refresh sessions: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, sess.TokenHash, sess.UserID, formatTime(sess.CreatedAt), sess.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting refresh session: %w", err)
	}

	s.logger.Debug("created refresh session", "user_id", sess.UserID)
	return nil
}

// ConsumeRefreshSession deletes and returns the unexpired session in one
// statement, so two concurrent refreshes cannot both succeed.
func (s *SQLiteStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (*RefreshSession, error) {
	var (
		sess      = RefreshSession{TokenHash: tokenHash}
		createdAt string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM refresh_sessions
		WHERE token_hash = ? AND expires_at > ?
		RETURNING user_id, created_at, expires_at
	`, tokenHash, time.Now().UnixMilli()).Scan(&sess.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming refresh session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	sess.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &sess, nil
}
