// ABOUTME: Tests for the chat client's command handling and rendering
// ABOUTME: Runs against an in-process websocket echo of received frames

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/realtime"
)

const (
	amyID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bobID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// newRecordingClient returns a client whose sent frames arrive on the
// returned channel.
func newRecordingClient(t *testing.T) (*client, *bytes.Buffer, <-chan realtime.Frame) {
	t.Helper()

	frames := make(chan realtime.Frame, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f realtime.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var out bytes.Buffer
	return &client{conn: conn, out: &out}, &out, frames
}

func nextFrame(t *testing.T, frames <-chan realtime.Frame) realtime.Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return realtime.Frame{}
	}
}

func TestHandleLine_JoinAndSend(t *testing.T) {
	c, _, frames := newRecordingClient(t)

	require.NoError(t, c.handleLine("/join group:"+amyID))
	f := nextFrame(t, frames)
	assert.Equal(t, realtime.FrameJoin, f.Type)
	assert.Equal(t, "group:"+amyID, f.RoomID)

	require.NoError(t, c.handleLine("hello there"))
	f = nextFrame(t, frames)
	assert.Equal(t, realtime.FrameSend, f.Type)
	assert.Equal(t, "group:"+amyID, f.RoomID)
	assert.Equal(t, "hello there", f.Content)
	assert.Len(t, f.Nonce, 32)

	require.NoError(t, c.handleLine("/leave"))
	f = nextFrame(t, frames)
	assert.Equal(t, realtime.FrameLeave, f.Type)
	assert.Empty(t, c.current)
}

func TestHandleLine_DirectUsesCanonicalRoom(t *testing.T) {
	c, _, frames := newRecordingClient(t)

	err := c.handleLine("/dm " + amyID)
	require.Error(t, err, "no identity before ready")

	c.render(&realtime.Event{Type: realtime.EventReady, Principal: &auth.Principal{ID: bobID, DisplayName: "bob"}})
	require.NoError(t, c.handleLine("/dm "+amyID))

	f := nextFrame(t, frames)
	assert.Equal(t, "dm:"+amyID+"-"+bobID, f.RoomID)
}

func TestHandleLine_Errors(t *testing.T) {
	c, out, _ := newRecordingClient(t)

	assert.Error(t, c.handleLine("hello"), "no room joined")
	assert.Error(t, c.handleLine("/join lobby"))
	assert.Error(t, c.handleLine("/leave"))
	assert.Error(t, c.handleLine("/frobnicate"))
	assert.ErrorIs(t, c.handleLine("/quit"), errQuit)
	assert.NoError(t, c.handleLine("   "))

	require.NoError(t, c.handleLine("/room"))
	assert.Equal(t, "no room\n", out.String())
}

func TestRender(t *testing.T) {
	c := &client{}

	msg := c.render(&realtime.Event{
		Type: realtime.EventMessage,
		Message: &realtime.MessagePayload{
			RoomID:            "group:" + amyID,
			SenderDisplayName: "amy",
			Content:           "hi",
			CreatedAt:         time.Now(),
		},
	})
	assert.Contains(t, msg, "amy")
	assert.Contains(t, msg, "hi")

	assert.Contains(t, c.render(&realtime.Event{Type: realtime.EventSystem, RoomID: "group:x", Text: "bob joined"}), "bob joined")
	assert.Contains(t, c.render(&realtime.Event{Type: realtime.EventError, Reason: "not_a_member"}), "not_a_member")
	assert.Empty(t, c.render(&realtime.Event{Type: realtime.EventAck}))
}
