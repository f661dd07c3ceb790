// ABOUTME: Room identifier grammar shared by the router, registry and directory
// ABOUTME: Parses group:<id> and dm:<a>-<b> and derives canonical direct ids

package room

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes group rooms from direct conversations.
type Kind string

const (
	KindGroup  Kind = "group"
	KindDirect Kind = "dm"
)

const (
	groupPrefix  = "group:"
	directPrefix = "dm:"
)

// ErrInvalid is returned for identifiers that match neither form.
var ErrInvalid = errors.New("invalid room")

// ID is a parsed room identifier. Participants of a direct room are kept
// in lexicographic order so both spellings of a pair compare equal.
type ID struct {
	Kind         Kind
	GroupID      string
	Participants [2]string
}

// Parse validates s and returns its parsed form.
func Parse(s string) (ID, error) {
	switch {
	case strings.HasPrefix(s, groupPrefix):
		id := strings.TrimPrefix(s, groupPrefix)
		if id == "" || strings.ContainsAny(id, ": ") {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return Group(id), nil

	case strings.HasPrefix(s, directPrefix):
		parts := strings.Split(strings.TrimPrefix(s, directPrefix), "-")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return Direct(parts[0], parts[1]), nil
	}
	return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// Group returns the room for a group id.
func Group(groupID string) ID {
	return ID{Kind: KindGroup, GroupID: groupID}
}

// Direct returns the room for a participant pair, in either order.
func Direct(a, b string) ID {
	if b < a {
		a, b = b, a
	}
	return ID{Kind: KindDirect, Participants: [2]string{a, b}}
}

// CanonicalDirect returns the canonical dm:<lo>-<hi> identifier for a pair.
func CanonicalDirect(a, b string) string {
	return Direct(a, b).String()
}

// String returns the canonical textual form.
func (id ID) String() string {
	if id.Kind == KindGroup {
		return groupPrefix + id.GroupID
	}
	return directPrefix + id.Participants[0] + "-" + id.Participants[1]
}

// IsDirect reports whether id names a direct conversation.
func (id ID) IsDirect() bool { return id.Kind == KindDirect }

// HasParticipant reports whether userID is one of the pair of a direct room.
func (id ID) HasParticipant(userID string) bool {
	return id.Kind == KindDirect && (id.Participants[0] == userID || id.Participants[1] == userID)
}

// Peer returns the other participant of a direct room. A self-conversation
// returns userID itself.
func (id ID) Peer(userID string) string {
	if id.Participants[0] == userID {
		return id.Participants[1]
	}
	return id.Participants[0]
}

// Canonicalize parses s and returns its canonical string.
func Canonicalize(s string) (string, error) {
	id, err := Parse(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
