// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory maps plus injectable failures for append and lookups

package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/huddle/internal/room"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	users     map[string]*User
	groups    map[string]*Group
	directs   map[string]*DirectConversation // keyed by canonical dm room id
	messages  map[string][]*Message          // keyed by canonical room id
	sessions  map[string]*AssistantSession
	refresh   map[string]*RefreshSession // keyed by token hash
	appendErr error
	lookupErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		directs:  make(map[string]*DirectConversation),
		messages: make(map[string][]*Message),
		sessions: make(map[string]*AssistantSession),
		refresh:  make(map[string]*RefreshSession),
	}
}

// SetAppendError makes every AppendMessage and AppendAssistantEntry fail
// with err until reset with nil.
func (m *MockStore) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// SetLookupError makes GetGroup and GetDirect fail with err until reset.
func (m *MockStore) SetLookupError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupErr = err
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateEmail
		}
	}
	c := *u
	c.Email = strings.ToLower(c.Email)
	m.users[c.ID] = &c
	return nil
}

// GetUser retrieves a user by id.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// SearchUsers matches username or email substrings.
func (m *MockStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*User
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(u.Email, q) {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateGroup stores a new group.
func (m *MockStore) CreateGroup(ctx context.Context, g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyGroup(g)
	c.Members = lo.Uniq(c.Members)
	m.groups[c.ID] = c
	return nil
}

// GetGroup retrieves a group by id.
func (m *MockStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

// FindGroupByName returns the oldest group with the given name.
func (m *MockStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Group
	for _, g := range m.groups {
		if g.Name != name {
			continue
		}
		if found == nil || g.CreatedAt.Before(found.CreatedAt) ||
			(g.CreatedAt.Equal(found.CreatedAt) && g.ID < found.ID) {
			found = g
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyGroup(found), nil
}

// AddGroupMember adds a member if not already present.
func (m *MockStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if !g.HasMember(userID) {
		g.Members = append(g.Members, userID)
	}
	return nil
}

// DeleteGroup removes a group and its messages.
func (m *MockStore) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	delete(m.messages, room.Group(id).String())
	return nil
}

// ListGroupsByMember returns the groups containing userID.
func (m *MockStore) ListGroupsByMember(ctx context.Context, userID string) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Group
	for _, g := range m.groups {
		if g.HasMember(userID) {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateDirect stores a direct conversation unless the pair already has one.
func (m *MockStore) CreateDirect(ctx context.Context, d *DirectConversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := room.CanonicalDirect(d.Participants[0], d.Participants[1])
	if _, ok := m.directs[key]; ok {
		return ErrDuplicateConversation
	}
	lo, hi := sortedPair(d.Participants[0], d.Participants[1])
	d.Participants = [2]string{lo, hi}
	c := *d
	m.directs[key] = &c
	return nil
}

// GetDirect retrieves the conversation for a pair.
func (m *MockStore) GetDirect(ctx context.Context, a, b string) (*DirectConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	d, ok := m.directs[room.CanonicalDirect(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

// DeleteDirect removes a pair's conversation and messages.
func (m *MockStore) DeleteDirect(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := room.CanonicalDirect(a, b)
	if _, ok := m.directs[key]; !ok {
		return ErrNotFound
	}
	delete(m.directs, key)
	delete(m.messages, key)
	return nil
}

// ListDirectsByParticipant returns the conversations involving userID.
func (m *MockStore) ListDirectsByParticipant(ctx context.Context, userID string) ([]*DirectConversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DirectConversation
	for _, d := range m.directs {
		if d.Participants[0] == userID || d.Participants[1] == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendMessage appends to the room log with the same ordering rules as SQLite.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}

	rid, err := room.Parse(msg.RoomID)
	if err != nil {
		return err
	}
	if rid.IsDirect() {
		if _, ok := m.directs[rid.String()]; !ok {
			return ErrNotFound
		}
	} else if _, ok := m.groups[rid.GroupID]; !ok {
		return ErrNotFound
	}

	key := rid.String()
	log := m.messages[key]
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.RoomID = key
	msg.Seq = int64(len(log)) + 1
	if n := len(log); n > 0 && msg.CreatedAt.Before(log[n-1].CreatedAt) {
		msg.CreatedAt = log[n-1].CreatedAt
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	c := *msg
	m.messages[key] = append(log, &c)
	return nil
}

// ListMessages returns the latest limit messages, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, err := room.Canonicalize(roomID)
	if err != nil {
		return nil, err
	}
	log := m.messages[key]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]*Message, 0, len(log))
	for _, msg := range log {
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

// LastMessage returns the newest message in a room.
func (m *MockStore) LastMessage(ctx context.Context, roomID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, err := room.Canonicalize(roomID)
	if err != nil {
		return nil, err
	}
	log := m.messages[key]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	c := *log[len(log)-1]
	return &c, nil
}

// GetOrCreateAssistantSession returns the user's session.
func (m *MockStore) GetOrCreateAssistantSession(ctx context.Context, userID string) (*AssistantSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessionLocked(userID)
	c := *sess
	c.Entries = slices.Clone(sess.Entries)
	if c.Entries == nil {
		c.Entries = []AssistantEntry{}
	}
	return &c, nil
}

// AppendAssistantEntry appends to the user's session.
func (m *MockStore) AppendAssistantEntry(ctx context.Context, userID string, entry AssistantEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	sess := m.sessionLocked(userID)
	sess.Entries = append(sess.Entries, entry)
	sess.UpdatedAt = entry.CreatedAt
	return nil
}

// RecentAssistantEntries returns the latest limit entries.
func (m *MockStore) RecentAssistantEntries(ctx context.Context, userID string, limit int) ([]AssistantEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return []AssistantEntry{}, nil
	}
	entries := sess.Entries
	if limit >= 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]AssistantEntry{}, entries...), nil
}

// ClearAssistantSession drops the user's entries.
func (m *MockStore) ClearAssistantSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[userID]; ok {
		sess.Entries = nil
	}
	return nil
}

// CreateRefreshSession stores a refresh session.
func (m *MockStore) CreateRefreshSession(ctx context.Context, sess *RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.refresh[sess.TokenHash] = &cp
	return nil
}

// ConsumeRefreshSession removes and returns an unexpired session.
func (m *MockStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (*RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.refresh[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.refresh, tokenHash)
	if !sess.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

func (m *MockStore) sessionLocked(userID string) *AssistantSession {
	sess, ok := m.sessions[userID]
	if !ok {
		now := time.Now()
		sess = &AssistantSession{UserID: userID, CreatedAt: now, UpdatedAt: now}
		m.sessions[userID] = sess
	}
	return sess
}

func copyGroup(g *Group) *Group {
	c := *g
	c.Members = slices.Clone(g.Members)
	return &c
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
