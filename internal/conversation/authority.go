// ABOUTME: Membership authority deciding whether a principal may join or post to a room
// ABOUTME: Groups require membership; direct rooms require being one of the pair

package conversation

import (
	"context"
	"errors"

	"github.com/2389/huddle/internal/auth"
)

// Action is what a principal wants to do in a room.
type Action string

const (
	ActionJoin Action = "join"
	ActionPost Action = "post"
)

// Resolver looks up rooms.
type Resolver interface {
	Resolve(ctx context.Context, roomID string) (*Descriptor, error)
}

// Authority evaluates room access.
type Authority struct {
	rooms Resolver
}

// NewAuthority creates an Authority backed by rooms.
func NewAuthority(rooms Resolver) *Authority {
	return &Authority{rooms: rooms}
}

// Authorize returns nil when p may perform action in roomID and a denial
// error otherwise. Join and post follow the same rule.
func (a *Authority) Authorize(ctx context.Context, p auth.Principal, roomID string, action Action) error {
	desc, err := a.rooms.Resolve(ctx, roomID)
	if err != nil {
		return err
	}

	if desc.Room.IsDirect() {
		if !desc.Room.HasParticipant(p.ID) {
			return ErrNotAParticipant
		}
		return nil
	}

	if !desc.HasMember(p.ID) {
		return ErrNotAMember
	}
	return nil
}

// IsDenial reports whether err is an access decision rather than a failure
// to reach one.
func IsDenial(err error) bool {
	return errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrNotAMember) ||
		errors.Is(err, ErrNotAParticipant) ||
		errors.Is(err, ErrInvalidRoom)
}
