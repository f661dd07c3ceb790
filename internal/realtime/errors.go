// ABOUTME: Realtime failure sentinels and their wire reasons
// ABOUTME: Reason maps any router, registry or authority error to a stable string

package realtime

import (
	"errors"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
)

// The error text is the wire reason.
var (
	ErrInvalidGroup        = errors.New("invalid_group")
	ErrConversationMissing = errors.New("conversation_missing")
	ErrPersistFailed       = errors.New("persist_failed")
	ErrNotSubscribed       = errors.New("not_subscribed")
	ErrEmptyMessage        = errors.New("empty_message")
	ErrMessageTooLong      = errors.New("message_too_long")
	ErrInvalidContent      = errors.New("invalid_content")
	ErrInvalidFrame        = errors.New("invalid_frame")
	ErrUnknownFrame        = errors.New("unknown_frame")
	ErrUnknownConnection   = errors.New("unknown_connection")
	ErrDuplicateConnection = errors.New("duplicate_connection")
	ErrEventsDropped       = errors.New("events_dropped")
)

var reasons = []error{
	ErrInvalidGroup,
	ErrConversationMissing,
	ErrPersistFailed,
	ErrNotSubscribed,
	ErrEmptyMessage,
	ErrMessageTooLong,
	ErrInvalidContent,
	ErrInvalidFrame,
	ErrUnknownFrame,
	ErrUnknownConnection,
	ErrEventsDropped,
	conversation.ErrGroupNotFound,
	conversation.ErrNotAMember,
	conversation.ErrNotAParticipant,
	conversation.ErrInvalidRoom,
	auth.ErrMissingCredential,
	auth.ErrInvalidCredential,
	auth.ErrUnknownSubject,
}

// Reason returns the wire reason for err, or "internal_error".
func Reason(err error) string {
	for _, sentinel := range reasons {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}
