// ABOUTME: Connection registry tracking live connections and their room subscriptions
// ABOUTME: Subscriptions are authorized on entry and fan-out never blocks on a slow reader

package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/room"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 64

// Authorizer decides room access.
type Authorizer interface {
	Authorize(ctx context.Context, p auth.Principal, roomID string, action conversation.Action) error
}

// Registry maps connections to principals and rooms to subscribed connections.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*connEntry
	rooms      map[string]map[string]struct{} // room id -> conn ids
	authority  Authorizer
	bufferSize int
	logger     *slog.Logger
}

type connEntry struct {
	principal auth.Principal
	rooms     map[string]struct{}
	out       chan *Event

	// mu guards missed: rooms with events dropped since the last notice.
	mu     sync.Mutex
	missed map[string]struct{}
}

// NewRegistry creates a Registry. Pass nil logger for default.
func NewRegistry(authority Authorizer, bufferSize int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	return &Registry{
		conns:      make(map[string]*connEntry),
		rooms:      make(map[string]map[string]struct{}),
		authority:  authority,
		bufferSize: bufferSize,
		logger:     logger.With("component", "registry"),
	}
}

// Register adds a connection and returns its outbound queue. The queue is
// closed by Unregister.
func (r *Registry) Register(connID string, p auth.Principal) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return nil, ErrDuplicateConnection
	}
	entry := &connEntry{
		principal: p,
		rooms:     make(map[string]struct{}),
		out:       make(chan *Event, r.bufferSize),
		missed:    make(map[string]struct{}),
	}
	r.conns[connID] = entry

	r.logger.Info("connection registered", "conn_id", connID, "principal", p.ID)
	return entry.out, nil
}

// Unregister removes a connection from every room and closes its queue.
// It returns the rooms the connection had been subscribed to.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := lo.Keys(entry.rooms)
	for _, rid := range rooms {
		r.removeLocked(rid, connID)
	}
	delete(r.conns, connID)
	close(entry.out)

	r.logger.Info("connection unregistered", "conn_id", connID, "rooms", len(rooms))
	return rooms
}

// Subscribe authorizes the connection's principal for roomID and adds the
// subscription. It returns the canonical room id and whether the
// subscription is new; subscribing twice is a no-op.
func (r *Registry) Subscribe(ctx context.Context, connID, roomID string) (string, bool, error) {
	canonical, err := room.Canonicalize(roomID)
	if err != nil {
		return "", false, conversation.ErrInvalidRoom
	}

	r.mu.RLock()
	entry, ok := r.conns[connID]
	var already bool
	if ok {
		_, already = entry.rooms[canonical]
	}
	r.mu.RUnlock()
	if !ok {
		return "", false, ErrUnknownConnection
	}
	if already {
		return canonical, false, nil
	}

	if err := r.authority.Authorize(ctx, entry.principal, canonical, conversation.ActionJoin); err != nil {
		r.logger.Debug("subscribe denied", "conn_id", connID, "room", canonical, "error", err)
		return canonical, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may have gone away while we were authorizing.
	entry, ok = r.conns[connID]
	if !ok {
		return "", false, ErrUnknownConnection
	}
	if _, already := entry.rooms[canonical]; already {
		return canonical, false, nil
	}
	entry.rooms[canonical] = struct{}{}
	subs, ok := r.rooms[canonical]
	if !ok {
		subs = make(map[string]struct{})
		r.rooms[canonical] = subs
	}
	subs[connID] = struct{}{}

	r.logger.Debug("subscribed", "conn_id", connID, "room", canonical)
	return canonical, true, nil
}

// Unsubscribe drops the subscription. It returns the canonical room id and
// whether a subscription was actually removed.
func (r *Registry) Unsubscribe(connID, roomID string) (string, bool, error) {
	canonical, err := room.Canonicalize(roomID)
	if err != nil {
		return "", false, conversation.ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return "", false, ErrUnknownConnection
	}
	if _, subscribed := entry.rooms[canonical]; !subscribed {
		return canonical, false, nil
	}
	delete(entry.rooms, canonical)
	r.removeLocked(canonical, connID)
	return canonical, true, nil
}

func (r *Registry) removeLocked(roomID, connID string) {
	subs := r.rooms[roomID]
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.rooms, roomID)
	}
}

// SubscribersOf returns a snapshot of the connections subscribed to roomID.
func (r *Registry) SubscribersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms[roomID])
}

// IsSubscribed reports whether connID is subscribed to the canonical roomID.
func (r *Registry) IsSubscribed(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = entry.rooms[roomID]
	return ok
}

// Deliver queues ev for connID without blocking. It reports false when the
// connection is gone or its queue is full, in which case ev is dropped and
// the room is remembered. Once the queue has room again, the connection
// gets an events_dropped error for that room ahead of newer events so the
// client can re-read history.
func (r *Registry) Deliver(connID string, ev *Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	for rid := range entry.missed {
		select {
		case entry.out <- errorEvent(ErrEventsDropped.Error(), rid):
			delete(entry.missed, rid)
		default:
			return r.drop(connID, entry, ev)
		}
	}

	select {
	case entry.out <- ev:
		return true
	default:
		return r.drop(connID, entry, ev)
	}
}

// drop records a missed event. entry.mu must be held.
func (r *Registry) drop(connID string, entry *connEntry, ev *Event) bool {
	entry.missed[ev.RoomID] = struct{}{}
	r.logger.Warn("dropping event for slow connection",
		"conn_id", connID,
		"principal", entry.principal.ID,
		"room_id", ev.RoomID,
		"type", ev.Type)
	return false
}

// Principal returns the principal bound to connID.
func (r *Registry) Principal(connID string) (auth.Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return auth.Principal{}, false
	}
	return entry.principal, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
