// ABOUTME: Message router that persists a post before fanning it out to subscribers
// ABOUTME: Posts to one room are serialized so delivery order matches log order

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/keylock"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

// MaxContentLength bounds a message body in bytes.
const MaxContentLength = 16 * 1024

// MessageAppender is the log the router records into.
type MessageAppender interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// UserLookup resolves sender display names.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Router records posts and delivers them to room subscribers.
type Router struct {
	log       MessageAppender
	users     UserLookup
	registry  *Registry
	roomLocks *keylock.Map
	now       func() time.Time
	logger    *slog.Logger
}

// NewRouter creates a Router. Pass nil logger for default.
func NewRouter(log MessageAppender, users UserLookup, registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:       log,
		users:     users,
		registry:  registry,
		roomLocks: keylock.New(),
		now:       time.Now,
		logger:    logger.With("component", "router"),
	}
}

// Post records content from sender in roomID and then broadcasts it to the
// room's current subscribers. Nothing is broadcast unless the append
// succeeded. Access must already have been checked by the caller.
func (r *Router) Post(ctx context.Context, roomID string, sender auth.Principal, content string) (*store.Message, error) {
	rid, err := room.Parse(roomID)
	if err != nil {
		return nil, conversation.ErrInvalidRoom
	}
	if rid.Kind == room.KindGroup && !store.ValidID(rid.GroupID) {
		return nil, ErrInvalidGroup
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > MaxContentLength {
		return nil, ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return nil, ErrInvalidContent
	}

	msg := &store.Message{
		ID:                store.NewID(),
		RoomID:            rid.String(),
		SenderID:          sender.ID,
		SenderDisplayName: r.displayName(ctx, sender),
		Content:           content,
	}

	// Record first, then broadcast. Holding the room lock across both keeps
	// every subscriber's view in log order.
	unlock := r.roomLocks.Lock(msg.RoomID)
	defer unlock()

	msg.CreatedAt = r.now()
	if err := r.log.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("post to missing conversation", "room", msg.RoomID, "sender", sender.ID)
			return nil, ErrConversationMissing
		}
		r.logger.Error("failed to persist message", "room", msg.RoomID, "sender", sender.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	delivered := r.broadcast(msg.RoomID, &Event{
		Type:    EventMessage,
		RoomID:  msg.RoomID,
		Message: NewMessagePayload(msg),
	})
	r.logger.Debug("message routed", "room", msg.RoomID, "seq", msg.Seq, "delivered", delivered)
	return msg, nil
}

// Announce sends a system notice to the room's current subscribers.
func (r *Router) Announce(roomID, text string) {
	unlock := r.roomLocks.Lock(roomID)
	defer unlock()
	r.broadcast(roomID, systemEvent(roomID, text))
}

func (r *Router) broadcast(roomID string, ev *Event) int {
	delivered := 0
	for _, connID := range r.registry.SubscribersOf(roomID) {
		if r.registry.Deliver(connID, ev) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) displayName(ctx context.Context, sender auth.Principal) string {
	u, err := r.users.GetUser(ctx, sender.ID)
	if err != nil || u.Username == "" {
		return sender.DisplayName
	}
	return u.Username
}
