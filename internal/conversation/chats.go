// ABOUTME: Chat list assembly for a user's groups and direct conversations
// ABOUTME: Attaches last message and peer display name, newest activity first

package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

// UnknownUserName is shown for a direct peer whose account is gone.
const UnknownUserName = "Unknown User"

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	RoomID      string         `json:"room_id"`
	Kind        room.Kind      `json:"kind"`
	Name        string         `json:"name"`
	GroupID     string         `json:"group_id,omitempty"`
	PeerID      string         `json:"peer_id,omitempty"`
	Members     []string       `json:"members,omitempty"`
	LastMessage *store.Message `json:"last_message,omitempty"`
}

// ListChats returns every room userID belongs to, ordered by most recent
// message. Rooms with no messages come last.
func (d *Directory) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	groups, err := d.store.ListGroupsByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	directs, err := d.store.ListDirectsByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing direct conversations: %w", err)
	}

	chats := make([]ChatSummary, 0, len(groups)+len(directs))
	for _, g := range groups {
		chats = append(chats, ChatSummary{
			RoomID:  room.Group(g.ID).String(),
			Kind:    room.KindGroup,
			Name:    g.Name,
			GroupID: g.ID,
			Members: g.Members,
		})
	}
	for _, dc := range directs {
		rid := room.Direct(dc.Participants[0], dc.Participants[1])
		peer := rid.Peer(userID)
		chats = append(chats, ChatSummary{
			RoomID: rid.String(),
			Kind:   room.KindDirect,
			Name:   d.displayName(ctx, peer),
			PeerID: peer,
		})
	}

	for i := range chats {
		last, err := d.store.LastMessage(ctx, chats[i].RoomID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading last message: %w", err)
		}
		chats[i].LastMessage = last
	}

	slices.SortStableFunc(chats, func(a, b ChatSummary) int {
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return cmp.Compare(a.Name, b.Name)
		case a.LastMessage == nil:
			return 1
		case b.LastMessage == nil:
			return -1
		}
		return b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt)
	})
	return chats, nil
}

func (d *Directory) displayName(ctx context.Context, userID string) string {
	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return UnknownUserName
	}
	return lo.CoalesceOrEmpty(u.Username, UnknownUserName)
}
