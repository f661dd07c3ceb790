// ABOUTME: Tests for room access decisions
// ABOUTME: Group membership and direct pair participation rules

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

func TestAuthorize(t *testing.T) {
	d, _ := newTestDirectory(t)
	authority := NewAuthority(d)
	ctx := t.Context()

	g, err := d.CreateGroup(ctx, "team", "amy", []string{"bob"})
	require.NoError(t, err)
	groupRoom := room.Group(g.ID).String()

	amy := auth.Principal{ID: "amy", DisplayName: "amy"}
	carol := auth.Principal{ID: "carol", DisplayName: "carol"}

	tests := []struct {
		name      string
		principal auth.Principal
		roomID    string
		want      error
	}{
		{name: "member joins group", principal: amy, roomID: groupRoom},
		{name: "outsider joins group", principal: carol, roomID: groupRoom, want: ErrNotAMember},
		{name: "missing group", principal: amy, roomID: room.Group(store.NewID()).String(), want: ErrGroupNotFound},
		{name: "participant joins dm", principal: amy, roomID: "dm:amy-bob"},
		{name: "participant joins reversed dm", principal: amy, roomID: "dm:bob-amy"},
		{name: "third party joins dm", principal: carol, roomID: "dm:amy-bob", want: ErrNotAParticipant},
		{name: "self conversation", principal: carol, roomID: "dm:carol-carol"},
		{name: "garbage id", principal: amy, roomID: "nonsense", want: ErrInvalidRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, action := range []Action{ActionJoin, ActionPost} {
				err := authority.Authorize(ctx, tt.principal, tt.roomID, action)
				if tt.want == nil {
					assert.NoError(t, err, action)
				} else {
					assert.ErrorIs(t, err, tt.want, action)
					assert.True(t, IsDenial(err))
				}
			}
		})
	}
}
