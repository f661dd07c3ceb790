// ABOUTME: Shared fixtures for realtime tests
// ABOUTME: Wires a mock store, directory, authority, registry and router with three users

package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

type fixture struct {
	store     *store.MockStore
	directory *conversation.Directory
	registry  *Registry
	router    *Router
	nonces    *dedupe.Window

	amy, bob, carol auth.Principal
	groupRoom       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	f := &fixture{store: s}
	for _, p := range []*auth.Principal{&f.amy, &f.bob, &f.carol} {
		*p = auth.Principal{ID: store.NewID()}
	}
	f.amy.DisplayName, f.bob.DisplayName, f.carol.DisplayName = "amy", "bob", "carol"
	for _, p := range []auth.Principal{f.amy, f.bob, f.carol} {
		require.NoError(t, s.CreateUser(ctx, &store.User{ID: p.ID, Username: p.DisplayName, Email: p.DisplayName + "@example.com", CreatedAt: time.Now()}))
	}

	f.directory = conversation.NewDirectory(s, nil)
	g, err := f.directory.CreateGroup(ctx, "team", f.amy.ID, []string{f.bob.ID})
	require.NoError(t, err)
	f.groupRoom = room.Group(g.ID).String()

	f.registry = NewRegistry(conversation.NewAuthority(f.directory), 8, nil)
	f.router = NewRouter(s, s, f.registry, nil)
	f.nonces = dedupe.New(time.Minute, 100)
	return f
}

func (f *fixture) register(t *testing.T, connID string, p auth.Principal) <-chan *Event {
	t.Helper()
	ch, err := f.registry.Register(connID, p)
	require.NoError(t, err)
	return ch
}

func (f *fixture) subscribe(t *testing.T, connID, roomID string) {
	t.Helper()
	_, _, err := f.registry.Subscribe(context.Background(), connID, roomID)
	require.NoError(t, err)
}

// next waits for one event or fails.
func next(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// quiet asserts nothing arrives for a short while.
func quiet(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
