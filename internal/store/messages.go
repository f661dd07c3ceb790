// ABOUTME: SQLite persistence for the per-room message log
// ABOUTME: Appends assign sequence numbers and non-decreasing timestamps in one statement

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/huddle/internal/room"
)

// appendMessageSQL inserts only when the target conversation exists. The
// new row takes seq = max(seq)+1 and created_at = max(requested, latest) so
// the log never goes backwards even if the wall clock does.
const appendMessageSQL = `
	INSERT INTO messages (message_id, room_id, seq, sender_id, sender_display_name, content, created_at)
	SELECT ?, ?,
		COALESCE((SELECT MAX(seq) FROM messages WHERE room_id = ?), 0) + 1,
		?, ?, ?,
		MAX(?, COALESCE((SELECT MAX(created_at) FROM messages WHERE room_id = ?), 0))
	WHERE EXISTS (%s)
	RETURNING seq, created_at
`

const (
	groupExistsSQL  = `SELECT 1 FROM groups WHERE group_id = ?`
	directExistsSQL = `SELECT 1 FROM direct_conversations WHERE user_lo = ? AND user_hi = ?`
)

// AppendMessage persists msg at the end of its room's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	rid, err := room.Parse(msg.RoomID)
	if err != nil {
		return err
	}
	canonical := rid.String()

	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	args := []any{
		msg.ID, canonical, canonical,
		msg.SenderID, msg.SenderDisplayName, msg.Content,
		msg.CreatedAt.UnixNano(), canonical,
	}
	var exists string
	if rid.IsDirect() {
		exists = directExistsSQL
		args = append(args, rid.Participants[0], rid.Participants[1])
	} else {
		exists = groupExistsSQL
		args = append(args, rid.GroupID)
	}

	var seq, createdAt int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(appendMessageSQL, exists), args...).Scan(&seq, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	msg.RoomID = canonical
	msg.Seq = seq
	msg.CreatedAt = time.Unix(0, createdAt).UTC()

	s.logger.Debug("appended message", "room", canonical, "seq", seq, "sender", msg.SenderID)
	return nil
}

// ListMessages returns up to limit of the latest messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	canonical, err := room.Canonicalize(roomID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, room_id, seq, sender_id, sender_display_name, content, created_at
		FROM (
			SELECT * FROM messages WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, canonical, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessage returns the newest message in a room, or ErrNotFound.
func (s *SQLiteStore) LastMessage(ctx context.Context, roomID string) (*Message, error) {
	canonical, err := room.Canonicalize(roomID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, room_id, seq, sender_id, sender_display_name, content, created_at
		FROM messages WHERE room_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, canonical)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		createdAt int64
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.Seq, &m.SenderID, &m.SenderDisplayName, &m.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}
