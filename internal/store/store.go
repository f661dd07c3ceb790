// ABOUTME: Store interfaces and record types for huddle persistence
// ABOUTME: Defines users, groups, direct conversations, the message log and assistant sessions

package store

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a direct conversation for the
// same pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateEmail is returned when registering an email twice
var ErrDuplicateEmail = errors.New("email already registered")

// User is a registered account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Group is a named multi-member conversation.
type Group struct {
	ID        string
	Name      string
	Members   []string
	CreatedAt time.Time
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// DirectConversation is the single conversation between two users. The pair
// is stored sorted; a user may hold a conversation with themselves.
type DirectConversation struct {
	ID           string
	Participants [2]string
	CreatedAt    time.Time
}

// Message is one entry in a room's ordered log. Seq is assigned by the store
// and increases by one per room; CreatedAt never decreases within a room.
type Message struct {
	ID                string
	RoomID            string
	Seq               int64
	SenderID          string
	SenderDisplayName string
	Content           string
	CreatedAt         time.Time
}

// AssistantRole marks who produced an assistant log entry.
type AssistantRole string

const (
	RoleUser      AssistantRole = "user"
	RoleAssistant AssistantRole = "assistant"
)

// AssistantEntry is one turn half in a user's assistant history.
type AssistantEntry struct {
	Role      AssistantRole
	Content   string
	CreatedAt time.Time
}

// AssistantSession is a user's private assistant conversation.
type AssistantSession struct {
	UserID    string
	Entries   []AssistantEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshSession is a long-lived login that can mint new access tokens.
// Only a hash of the refresh token is stored.
type RefreshSession struct {
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// SearchUsers matches username or email case-insensitively, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*User, error)
}

// GroupStore persists groups and their membership.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	// FindGroupByName returns the oldest group with the given name.
	FindGroupByName(ctx context.Context, name string) (*Group, error)
	// AddGroupMember is idempotent.
	AddGroupMember(ctx context.Context, groupID, userID string) error
	// DeleteGroup removes the group, its membership and its message log.
	DeleteGroup(ctx context.Context, id string) error
	ListGroupsByMember(ctx context.Context, userID string) ([]*Group, error)
}

// DirectStore persists direct conversations keyed by their sorted pair.
type DirectStore interface {
	// CreateDirect returns ErrDuplicateConversation if the pair already has one.
	CreateDirect(ctx context.Context, d *DirectConversation) error
	GetDirect(ctx context.Context, a, b string) (*DirectConversation, error)
	// DeleteDirect removes the conversation and its message log.
	DeleteDirect(ctx context.Context, a, b string) error
	ListDirectsByParticipant(ctx context.Context, userID string) ([]*DirectConversation, error)
}

// MessageLog is the per-room append-only log.
type MessageLog interface {
	// AppendMessage atomically assigns Seq and a non-decreasing CreatedAt and
	// persists msg. It returns ErrNotFound when the room's conversation does
	// not exist.
	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the most recent limit messages, oldest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
	LastMessage(ctx context.Context, roomID string) (*Message, error)
}

// AssistantStore persists assistant sessions.
type AssistantStore interface {
	GetOrCreateAssistantSession(ctx context.Context, userID string) (*AssistantSession, error)
	AppendAssistantEntry(ctx context.Context, userID string, entry AssistantEntry) error
	// RecentAssistantEntries returns up to limit latest entries, oldest first.
	RecentAssistantEntries(ctx context.Context, userID string, limit int) ([]AssistantEntry, error)
	ClearAssistantSession(ctx context.Context, userID string) error
}

// SessionStore persists refresh sessions.
type SessionStore interface {
	CreateRefreshSession(ctx context.Context, sess *RefreshSession) error
	// ConsumeRefreshSession deletes the unexpired session for tokenHash and
	// returns it. A token can be consumed once; later calls return
	// ErrNotFound.
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (*RefreshSession, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	GroupStore
	DirectStore
	MessageLog
	AssistantStore
	SessionStore

	Ping(ctx context.Context) error
	Close() error
}

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewID returns a fresh identifier. Ids carry no dashes so they can be
// joined into dm:<a>-<b> room names.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether s has the shape produced by NewID.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

func sortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
