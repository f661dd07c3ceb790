// ABOUTME: Tests for the per-connection session loop
// ABOUTME: Drives sessions through an in-memory Conn and checks the frames they emit

package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/auth"
)

// pipeConn is an in-memory Conn. Tests push frames into in and read events from out.
type pipeConn struct {
	in     chan *Frame
	out    chan *Event
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan *Frame),
		out:    make(chan *Event, 64),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadFrame() (*Frame, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		if f == nil {
			return nil, ErrInvalidFrame
		}
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteEvent(ev *Event) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.out <- ev
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) send(t *testing.T, f *Frame) {
	t.Helper()
	select {
	case c.in <- f:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not accept frame")
	}
}

type runningSession struct {
	conn *pipeConn
	done chan error
}

func (f *fixture) start(t *testing.T, connID string, p auth.Principal) *runningSession {
	t.Helper()
	conn := newPipeConn()
	s := NewSession(connID, p, conn, f.registry, f.router, f.nonces, nil)
	rs := &runningSession{conn: conn, done: make(chan error, 1)}
	go func() { rs.done <- s.Run(t.Context()) }()

	ready := next(t, conn.out)
	require.Equal(t, EventReady, ready.Type)
	require.Equal(t, p.ID, ready.Principal.ID)
	t.Cleanup(func() { conn.Close() })
	return rs
}

func TestSession_JoinSendAndReceive(t *testing.T) {
	f := newFixture(t)
	amy := f.start(t, "amy-1", f.amy)
	bob := f.start(t, "bob-1", f.bob)

	amy.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	assert.Equal(t, "amy joined", next(t, amy.conn.out).Text)

	bob.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	assert.Equal(t, "bob joined", next(t, amy.conn.out).Text)
	assert.Equal(t, "bob joined", next(t, bob.conn.out).Text)

	amy.conn.send(t, &Frame{Type: FrameSend, RoomID: f.groupRoom, Content: "hi"})
	for _, c := range []*pipeConn{amy.conn, bob.conn} {
		ev := next(t, c.out)
		assert.Equal(t, EventMessage, ev.Type)
		assert.Equal(t, "hi", ev.Message.Content)
		assert.Equal(t, f.amy.ID, ev.Message.SenderID)
	}
}

func TestSession_SendWithoutJoin(t *testing.T) {
	f := newFixture(t)
	amy := f.start(t, "amy-1", f.amy)

	amy.conn.send(t, &Frame{Type: FrameSend, RoomID: f.groupRoom, Content: "hi"})
	ev := next(t, amy.conn.out)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "not_subscribed", ev.Reason)

	msgs, err := f.store.ListMessages(t.Context(), f.groupRoom, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSession_JoinDenied(t *testing.T) {
	f := newFixture(t)
	carol := f.start(t, "carol-1", f.carol)

	carol.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	ev := next(t, carol.conn.out)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "not_a_member", ev.Reason)
	assert.Equal(t, f.groupRoom, ev.RoomID)

	// The connection stays usable.
	carol.conn.send(t, &Frame{Type: "dance"})
	assert.Equal(t, "unknown_frame", next(t, carol.conn.out).Reason)

	carol.conn.send(t, nil)
	assert.Equal(t, "invalid_frame", next(t, carol.conn.out).Reason)
}

func TestSession_DuplicateNonceIsAcknowledgedNotReposted(t *testing.T) {
	f := newFixture(t)
	amy := f.start(t, "amy-1", f.amy)
	amy.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	next(t, amy.conn.out) // joined

	frame := &Frame{Type: FrameSend, RoomID: f.groupRoom, Content: "once", Nonce: "n-1"}
	amy.conn.send(t, frame)
	amy.conn.send(t, frame)

	var acks, messages int
	for range 3 {
		switch next(t, amy.conn.out).Type {
		case EventAck:
			acks++
		case EventMessage:
			messages++
		}
	}
	assert.Equal(t, 2, acks)
	assert.Equal(t, 1, messages)
	quiet(t, amy.conn.out)

	msgs, err := f.store.ListMessages(t.Context(), f.groupRoom, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSession_LeaveAndDisconnectAnnounce(t *testing.T) {
	f := newFixture(t)
	amy := f.start(t, "amy-1", f.amy)
	bob := f.start(t, "bob-1", f.bob)

	amy.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	next(t, amy.conn.out)
	bob.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	next(t, amy.conn.out)
	next(t, bob.conn.out)

	bob.conn.send(t, &Frame{Type: FrameLeave, RoomID: f.groupRoom})
	assert.Equal(t, "bob left", next(t, amy.conn.out).Text)
	quiet(t, bob.conn.out)

	bob.conn.send(t, &Frame{Type: FrameJoin, RoomID: f.groupRoom})
	assert.Equal(t, "bob joined", next(t, amy.conn.out).Text)
	next(t, bob.conn.out)

	close(bob.conn.in)
	select {
	case err := <-bob.done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, "bob left", next(t, amy.conn.out).Text)
	assert.Equal(t, []string{"amy-1"}, f.registry.SubscribersOf(f.groupRoom))
}

func TestSession_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	conn := newPipeConn()
	s := NewSession("amy-1", f.amy, conn, f.registry, f.router, f.nonces, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	next(t, conn.out)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, 0, f.registry.Count())
}
