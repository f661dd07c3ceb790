// ABOUTME: Wire frames exchanged with realtime clients
// ABOUTME: Inbound join/leave/send frames and outbound ready/message/system/error/ack events

package realtime

import (
	"time"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/store"
)

// FrameType names an inbound client request.
type FrameType string

const (
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
	FrameSend  FrameType = "send"

	// frameInvalid marks a frame that could not be decoded.
	frameInvalid FrameType = "_invalid"
)

// Frame is one inbound client request.
type Frame struct {
	Type    FrameType `json:"type"`
	RoomID  string    `json:"room_id,omitempty"`
	Content string    `json:"content,omitempty"`
	Nonce   string    `json:"nonce,omitempty"`
}

// EventType names an outbound event.
type EventType string

const (
	EventReady   EventType = "ready"
	EventMessage EventType = "message"
	EventSystem  EventType = "system"
	EventError   EventType = "error"
	EventAck     EventType = "ack"
)

// Event is one outbound frame.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Message   *MessagePayload `json:"message,omitempty"`
	Text      string          `json:"text,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Nonce     string          `json:"nonce,omitempty"`
	Principal *auth.Principal `json:"principal,omitempty"`
}

// MessagePayload is a persisted message as sent to subscribers.
type MessagePayload struct {
	ID                string    `json:"id"`
	RoomID            string    `json:"room_id"`
	Seq               int64     `json:"seq"`
	SenderID          string    `json:"sender_id"`
	SenderDisplayName string    `json:"sender_display_name"`
	Content           string    `json:"content"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewMessagePayload converts a stored message.
func NewMessagePayload(m *store.Message) *MessagePayload {
	return &MessagePayload{
		ID:                m.ID,
		RoomID:            m.RoomID,
		Seq:               m.Seq,
		SenderID:          m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Content:           m.Content,
		CreatedAt:         m.CreatedAt,
	}
}

func errorEvent(reason, roomID string) *Event {
	return &Event{Type: EventError, Reason: reason, RoomID: roomID}
}

func systemEvent(roomID, text string) *Event {
	return &Event{Type: EventSystem, RoomID: roomID, Text: text}
}
