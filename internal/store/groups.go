// ABOUTME: SQLite persistence for groups and group membership
// ABOUTME: Membership inserts are idempotent; deleting a group drops its log

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/huddle/internal/room"
)

// CreateGroup inserts a group together with its initial members.
func (s *SQLiteStore) CreateGroup(ctx context.Context, g *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (group_id, name, created_at) VALUES (?, ?, ?)`,
		g.ID, g.Name, formatTime(g.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}

	for _, member := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id, added_at) VALUES (?, ?, ?)`,
			g.ID, member, formatTime(g.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group: %w", err)
	}

	s.logger.Debug("created group", "id", g.ID, "name", g.Name, "members", len(g.Members))
	return nil
}

// GetGroup retrieves a group and its members.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT group_id, name, created_at FROM groups WHERE group_id = ?`, id)
	g, err := scanGroup(row)
	if err != nil {
		return nil, err
	}
	if g.Members, err = s.groupMembers(ctx, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// FindGroupByName returns the oldest group called name.
func (s *SQLiteStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT group_id, name, created_at FROM groups
		WHERE name = ?
		ORDER BY created_at ASC, group_id ASC
		LIMIT 1
	`, name)
	g, err := scanGroup(row)
	if err != nil {
		return nil, err
	}
	if g.Members, err = s.groupMembers(ctx, g.ID); err != nil {
		return nil, err
	}
	return g, nil
}

// AddGroupMember adds userID to the group. Adding an existing member is a no-op.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, user_id, added_at)
		SELECT group_id, ?, ? FROM groups WHERE group_id = ?
	`, userID, formatTime(time.Now()), groupID)
	if err != nil {
		return fmt.Errorf("adding group member: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		// Either already a member or no such group.
		if _, err := s.GetGroup(ctx, groupID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGroup removes a group, its members and its messages.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE group_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = ?`, room.Group(id).String(),
	); err != nil {
		return fmt.Errorf("deleting group messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group delete: %w", err)
	}

	s.logger.Debug("deleted group", "id", id)
	return nil
}

// ListGroupsByMember returns every group userID belongs to.
func (s *SQLiteStore) ListGroupsByMember(ctx context.Context, userID string) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.group_id, g.name, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.group_id
		WHERE m.user_id = ?
		ORDER BY g.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	rows.Close()

	for _, g := range groups {
		if g.Members, err = s.groupMembers(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (s *SQLiteStore) groupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY added_at, user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func scanGroup(row rowScanner) (*Group, error) {
	var (
		g         Group
		createdAt string
	)
	err := row.Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning group: %w", err)
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &g, nil
}
