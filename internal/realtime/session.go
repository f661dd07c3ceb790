// ABOUTME: Per-connection task loop binding one client to the registry and router
// ABOUTME: Handles join, leave and send frames in arrival order and forwards room events

package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/room"
)

// Conn is a bidirectional frame transport for one client.
type Conn interface {
	// ReadFrame blocks for the next frame. Undecodable frames return an
	// error wrapping ErrInvalidFrame; the connection stays usable.
	ReadFrame() (*Frame, error)
	WriteEvent(ev *Event) error
	Close() error
}

// Session serves one authenticated connection.
type Session struct {
	id        string
	principal auth.Principal
	conn      Conn
	registry  *Registry
	router    *Router
	nonces    *dedupe.Window
	logger    *slog.Logger
}

// NewSession creates a session for an already authenticated principal.
// nonces may be shared across sessions; keys are scoped by principal.
func NewSession(id string, p auth.Principal, conn Conn, registry *Registry, router *Router, nonces *dedupe.Window, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		principal: p,
		conn:      conn,
		registry:  registry,
		router:    router,
		nonces:    nonces,
		logger:    logger.With("component", "session", "conn_id", id, "principal", p.ID),
	}
}

// Run serves the connection until the client goes away, a write fails or
// ctx is cancelled. The connection is unregistered and closed on return.
func (s *Session) Run(ctx context.Context) error {
	events, err := s.registry.Register(s.id, s.principal)
	if err != nil {
		s.conn.Close()
		return err
	}
	defer s.cleanup()

	p := s.principal
	if err := s.conn.WriteEvent(&Event{Type: EventReady, Principal: &p}); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	frames := make(chan *Frame)
	readErr := make(chan error, 1)
	go s.readLoop(frames, readErr, done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case f := <-frames:
			if err := s.handle(ctx, f); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.conn.WriteEvent(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readLoop(frames chan<- *Frame, readErr chan<- error, done <-chan struct{}) {
	for {
		f, err := s.conn.ReadFrame()
		if errors.Is(err, ErrInvalidFrame) {
			f, err = &Frame{Type: frameInvalid}, nil
		}
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

func (s *Session) cleanup() {
	for _, rid := range s.registry.Unregister(s.id) {
		s.router.Announce(rid, s.principal.DisplayName+" left")
	}
	s.conn.Close()
	s.logger.Debug("session closed")
}

// handle processes one frame to completion. Only transport write failures
// are returned; request failures are reported to the client.
func (s *Session) handle(ctx context.Context, f *Frame) error {
	switch f.Type {
	case FrameJoin:
		canonical, added, err := s.registry.Subscribe(ctx, s.id, f.RoomID)
		if err != nil {
			return s.reject(err, f.RoomID)
		}
		if added {
			s.router.Announce(canonical, s.principal.DisplayName+" joined")
		}
		return nil

	case FrameLeave:
		canonical, removed, err := s.registry.Unsubscribe(s.id, f.RoomID)
		if err != nil {
			return s.reject(err, f.RoomID)
		}
		if removed {
			s.router.Announce(canonical, s.principal.DisplayName+" left")
		}
		return nil

	case FrameSend:
		return s.send(ctx, f)

	case frameInvalid:
		return s.reject(ErrInvalidFrame, "")

	default:
		return s.reject(ErrUnknownFrame, f.RoomID)
	}
}

func (s *Session) send(ctx context.Context, f *Frame) error {
	canonical, err := room.Canonicalize(f.RoomID)
	if err != nil {
		return s.reject(conversation.ErrInvalidRoom, f.RoomID)
	}
	if !s.registry.IsSubscribed(s.id, canonical) {
		return s.reject(ErrNotSubscribed, canonical)
	}

	nonceKey := s.principal.ID + "/" + f.Nonce
	if f.Nonce != "" && s.nonces.Seen(nonceKey) {
		s.logger.Debug("duplicate send acknowledged", "room", canonical, "nonce", f.Nonce)
		return s.conn.WriteEvent(&Event{Type: EventAck, RoomID: canonical, Nonce: f.Nonce})
	}

	if _, err := s.router.Post(ctx, canonical, s.principal, f.Content); err != nil {
		return s.reject(err, canonical)
	}

	if f.Nonce != "" {
		s.nonces.Remember(nonceKey)
		return s.conn.WriteEvent(&Event{Type: EventAck, RoomID: canonical, Nonce: f.Nonce})
	}
	return nil
}

func (s *Session) reject(err error, roomID string) error {
	reason := Reason(err)
	if reason == "internal_error" {
		s.logger.Error("request failed", "room", roomID, "error", err)
	}
	return s.conn.WriteEvent(errorEvent(reason, roomID))
}
