// ABOUTME: SQLite persistence for direct conversations between two users
// ABOUTME: The sorted participant pair is unique so concurrent creators converge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/huddle/internal/room"
)

// CreateDirect inserts a direct conversation. The pair is sorted before storing.
func (s *SQLiteStore) CreateDirect(ctx context.Context, d *DirectConversation) error {
	lo, hi := sortedPair(d.Participants[0], d.Participants[1])
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO direct_conversations (conversation_id, user_lo, user_hi, created_at)
		VALUES (?, ?, ?, ?)
	`, d.ID, lo, hi, formatTime(d.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting direct conversation: %w", err)
	}
	d.Participants = [2]string{lo, hi}

	s.logger.Debug("created direct conversation", "id", d.ID, "room", room.CanonicalDirect(lo, hi))
	return nil
}

// GetDirect retrieves the conversation for a pair in either order.
func (s *SQLiteStore) GetDirect(ctx context.Context, a, b string) (*DirectConversation, error) {
	lo, hi := sortedPair(a, b)
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_lo, user_hi, created_at
		FROM direct_conversations WHERE user_lo = ? AND user_hi = ?
	`, lo, hi)
	return scanDirect(row)
}

// DeleteDirect removes the conversation for a pair and its messages.
func (s *SQLiteStore) DeleteDirect(ctx context.Context, a, b string) error {
	lo, hi := sortedPair(a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM direct_conversations WHERE user_lo = ? AND user_hi = ?`, lo, hi)
	if err != nil {
		return fmt.Errorf("deleting direct conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = ?`, room.CanonicalDirect(lo, hi),
	); err != nil {
		return fmt.Errorf("deleting direct messages: %w", err)
	}

	return tx.Commit()
}

// ListDirectsByParticipant returns every direct conversation involving userID.
func (s *SQLiteStore) ListDirectsByParticipant(ctx context.Context, userID string) ([]*DirectConversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_lo, user_hi, created_at
		FROM direct_conversations
		WHERE user_lo = ? OR user_hi = ?
		ORDER BY created_at ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing direct conversations: %w", err)
	}
	defer rows.Close()

	var out []*DirectConversation
	for rows.Next() {
		d, err := scanDirect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDirect(row rowScanner) (*DirectConversation, error) {
	var (
		d         DirectConversation
		createdAt string
	)
	err := row.Scan(&d.ID, &d.Participants[0], &d.Participants[1], &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning direct conversation: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}
