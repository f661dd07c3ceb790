// ABOUTME: SQLite persistence for per-user assistant sessions
// ABOUTME: Entries are append-only and ordered by a per-user sequence

package store

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// GetOrCreateAssistantSession returns the user's session with all entries,
// creating an empty one on first use.
func (s *SQLiteStore) GetOrCreateAssistantSession(ctx context.Context, userID string) (*AssistantSession, error) {
	if err := s.ensureAssistantSession(ctx, userID, time.Now()); err != nil {
		return nil, err
	}

	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM assistant_sessions WHERE user_id = ?`, userID,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("querying assistant session: %w", err)
	}

	sess := &AssistantSession{UserID: userID}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if sess.Entries, err = s.assistantEntries(ctx, userID, -1); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendAssistantEntry appends one entry to the user's session.
func (s *SQLiteStore) AppendAssistantEntry(ctx context.Context, userID string, entry AssistantEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.ensureAssistantSession(ctx, userID, entry.CreatedAt); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assistant_entries (user_id, seq, role, content, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		FROM assistant_entries WHERE user_id = ?
	`, userID, string(entry.Role), entry.Content, formatTime(entry.CreatedAt), userID); err != nil {
		return fmt.Errorf("inserting assistant entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE assistant_sessions SET updated_at = ? WHERE user_id = ?`,
		formatTime(entry.CreatedAt), userID,
	); err != nil {
		return fmt.Errorf("touching assistant session: %w", err)
	}

	return tx.Commit()
}

// RecentAssistantEntries returns the newest limit entries in chronological order.
func (s *SQLiteStore) RecentAssistantEntries(ctx context.Context, userID string, limit int) ([]AssistantEntry, error) {
	return s.assistantEntries(ctx, userID, limit)
}

// ClearAssistantSession drops every entry but keeps the session row.
func (s *SQLiteStore) ClearAssistantSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM assistant_entries WHERE user_id = ?`, userID,
	); err != nil {
		return fmt.Errorf("clearing assistant session: %w", err)
	}
	s.logger.Debug("cleared assistant session", "user", userID)
	return nil
}

func (s *SQLiteStore) ensureAssistantSession(ctx context.Context, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO assistant_sessions (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, userID, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("creating assistant session: %w", err)
	}
	return nil
}

// assistantEntries loads entries newest-first and reverses them; a negative
// limit loads everything.
func (s *SQLiteStore) assistantEntries(ctx context.Context, userID string, limit int) ([]AssistantEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM assistant_entries
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying assistant entries: %w", err)
	}
	defer rows.Close()

	entries := []AssistantEntry{}
	for rows.Next() {
		var (
			e         AssistantEntry
			role      string
			createdAt string
		)
		if err := rows.Scan(&role, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning assistant entry: %w", err)
		}
		e.Role = AssistantRole(role)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}
