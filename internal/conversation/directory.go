// ABOUTME: Conversation directory resolving rooms and managing groups and direct pairs
// ABOUTME: Direct conversations are unique per pair; join-or-create by name is serialized per name

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/2389/huddle/internal/keylock"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

// Denial and lookup failures. The error text is the wire reason.
var (
	ErrGroupNotFound        = errors.New("group_not_found")
	ErrNotAMember           = errors.New("not_a_member")
	ErrNotAParticipant      = errors.New("not_a_participant")
	ErrInvalidRoom          = errors.New("invalid_room")
	ErrConversationNotFound = errors.New("conversation_not_found")
	ErrInvalidName          = errors.New("invalid_name")
)

// MaxGroupNameLength bounds group names.
const MaxGroupNameLength = 100

// Store is the persistence the directory needs.
type Store interface {
	store.GroupStore
	store.DirectStore
	GetUser(ctx context.Context, id string) (*store.User, error)
	LastMessage(ctx context.Context, roomID string) (*store.Message, error)
}

// Descriptor describes a resolved room.
type Descriptor struct {
	Room    room.ID
	Name    string
	Members []string
}

// HasMember reports whether userID may take part in the room.
func (d *Descriptor) HasMember(userID string) bool {
	return lo.Contains(d.Members, userID)
}

// Directory answers questions about rooms and owns their lifecycle.
type Directory struct {
	store     Store
	nameLocks *keylock.Map
	logger    *slog.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(s Store, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:     s,
		nameLocks: keylock.New(),
		logger:    logger.With("component", "directory"),
	}
}

// Resolve parses roomID and loads what is known about it. Direct rooms
// resolve from their id alone; group rooms must exist.
func (d *Directory) Resolve(ctx context.Context, roomID string) (*Descriptor, error) {
	rid, err := room.Parse(roomID)
	if err != nil {
		return nil, ErrInvalidRoom
	}

	if rid.IsDirect() {
		return &Descriptor{
			Room:    rid,
			Members: lo.Uniq(rid.Participants[:]),
		}, nil
	}

	g, err := d.store.GetGroup(ctx, rid.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	return &Descriptor{Room: rid, Name: g.Name, Members: g.Members}, nil
}

// CanonicalDMID returns the room id shared by both orderings of a pair.
func CanonicalDMID(a, b string) string {
	return room.CanonicalDirect(a, b)
}

// EnsureDM returns the direct conversation for a pair, creating it once.
// Concurrent callers for the same pair all receive the same conversation.
func (d *Directory) EnsureDM(ctx context.Context, a, b string) (*store.DirectConversation, error) {
	existing, err := d.store.GetDirect(ctx, a, b)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up direct conversation: %w", err)
	}

	dc := &store.DirectConversation{
		ID:           store.NewID(),
		Participants: [2]string{a, b},
		CreatedAt:    time.Now(),
	}
	if err := d.store.CreateDirect(ctx, dc); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost the race to another creator; theirs is the one.
			winner, lookupErr := d.store.GetDirect(ctx, a, b)
			if lookupErr == nil {
				d.logger.Debug("found existing direct conversation after race", "room", CanonicalDMID(a, b))
				return winner, nil
			}
			d.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}

	d.logger.Info("direct conversation created", "room", CanonicalDMID(a, b))
	return dc, nil
}

// DeleteDM removes the pair's conversation and its history.
func (d *Directory) DeleteDM(ctx context.Context, a, b string) error {
	err := d.store.DeleteDirect(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting direct conversation: %w", err)
	}
	d.logger.Info("direct conversation deleted", "room", CanonicalDMID(a, b))
	return nil
}

// FindOrCreateGroupByName joins requester to the oldest group called name,
// creating the group if none exists. Calls for the same name are serialized
// so concurrent joiners end up in one group.
func (d *Directory) FindOrCreateGroupByName(ctx context.Context, name, requester string) (*store.Group, bool, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, false, err
	}

	unlock := d.nameLocks.Lock(name)
	defer unlock()

	g, err := d.store.FindGroupByName(ctx, name)
	switch {
	case err == nil:
		if err := d.store.AddGroupMember(ctx, g.ID, requester); err != nil {
			return nil, false, fmt.Errorf("joining group: %w", err)
		}
		if !g.HasMember(requester) {
			g.Members = append(g.Members, requester)
			d.logger.Info("user joined group", "group", g.ID, "user", requester)
		}
		return g, false, nil

	case errors.Is(err, store.ErrNotFound):
		g, err := d.createGroup(ctx, name, requester, nil)
		return g, err == nil, err

	default:
		return nil, false, fmt.Errorf("finding group: %w", err)
	}
}

// CreateGroup creates a new group containing creator and members.
func (d *Directory) CreateGroup(ctx context.Context, name, creator string, members []string) (*store.Group, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	return d.createGroup(ctx, name, creator, members)
}

func (d *Directory) createGroup(ctx context.Context, name, creator string, members []string) (*store.Group, error) {
	g := &store.Group{
		ID:        store.NewID(),
		Name:      name,
		Members:   lo.Uniq(append([]string{creator}, members...)),
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	d.logger.Info("group created", "group", g.ID, "name", name, "members", len(g.Members))
	return g, nil
}

// GetGroup returns a group the requester belongs to.
func (d *Directory) GetGroup(ctx context.Context, groupID, requester string) (*store.Group, error) {
	g, err := d.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	if !g.HasMember(requester) {
		return nil, ErrNotAMember
	}
	return g, nil
}

// DeleteGroup removes a group. Only members may delete it.
func (d *Directory) DeleteGroup(ctx context.Context, groupID, requester string) error {
	if _, err := d.GetGroup(ctx, groupID, requester); err != nil {
		return err
	}
	err := d.store.DeleteGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	d.logger.Info("group deleted", "group", groupID, "by", requester)
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxGroupNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
