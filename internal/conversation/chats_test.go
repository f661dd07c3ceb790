// ABOUTME: Tests for chat list assembly
// ABOUTME: Ordering by last message and direct peer naming

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

func TestListChats_OrderAndNames(t *testing.T) {
	d, s := newTestDirectory(t)
	ctx := t.Context()

	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "bob", Username: "Bob", Email: "bob@example.com"}))

	quiet, err := d.CreateGroup(ctx, "quiet", "amy", nil)
	require.NoError(t, err)
	busy, err := d.CreateGroup(ctx, "busy", "amy", nil)
	require.NoError(t, err)
	_, err = d.EnsureDM(ctx, "amy", "bob")
	require.NoError(t, err)
	_, err = d.EnsureDM(ctx, "amy", "ghost")
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, s.AppendMessage(ctx, &store.Message{RoomID: room.Group(busy.ID).String(), SenderID: "amy", Content: "old", CreatedAt: base}))
	require.NoError(t, s.AppendMessage(ctx, &store.Message{RoomID: "dm:amy-bob", SenderID: "bob", Content: "new", CreatedAt: base.Add(time.Minute)}))

	chats, err := d.ListChats(ctx, "amy")
	require.NoError(t, err)
	require.Len(t, chats, 4)

	assert.Equal(t, "dm:amy-bob", chats[0].RoomID)
	assert.Equal(t, "Bob", chats[0].Name)
	assert.Equal(t, "new", chats[0].LastMessage.Content)

	assert.Equal(t, room.Group(busy.ID).String(), chats[1].RoomID)

	// Never-messaged rooms trail, ordered by name.
	assert.Nil(t, chats[2].LastMessage)
	assert.Nil(t, chats[3].LastMessage)
	assert.Equal(t, UnknownUserName, chats[2].Name)
	assert.Equal(t, "quiet", chats[3].Name)
	assert.Equal(t, quiet.ID, chats[3].GroupID)
}

func TestListChats_SelfConversation(t *testing.T) {
	d, s := newTestDirectory(t)
	ctx := t.Context()

	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "amy", Username: "Amy", Email: "amy@example.com"}))
	_, err := d.EnsureDM(ctx, "amy", "amy")
	require.NoError(t, err)

	chats, err := d.ListChats(ctx, "amy")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Amy", chats[0].Name)
	assert.Equal(t, "amy", chats[0].PeerID)
}
