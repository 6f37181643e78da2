package relay

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SystemUser is the user_id carried by synthetic join/leave envelopes.
const SystemUser = "System"

// MessageType tags an envelope. Clients may send their own tags; the relay
// only produces TypeText and TypeSystem.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeSystem MessageType = "system"
)

// Envelope is the unit broadcast to room members. Build one with
// NewEnvelope or NewSystemEnvelope; fields are not modified afterwards.
type Envelope struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id"`
	UserID      string      `json:"user_id"`
	Content     string      `json:"content"`
	Timestamp   *string     `json:"timestamp"`
	MessageType MessageType `json:"message_type"`
}

// Frame is a message sent by a client over its real-time channel.
type Frame struct {
	Content   *string `json:"content"`
	Timestamp *string `json:"timestamp,omitempty"`
	Type      string  `json:"type,omitempty"`
}

// ParseFrame decodes a raw client frame. A payload that is not a JSON object
// or lacks the content field is a protocol error.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Content == nil {
		return Frame{}, fmt.Errorf("%w: missing content", ErrMalformedFrame)
	}
	return f, nil
}

// NewEnvelope attributes a client frame to userID in roomID.
func NewEnvelope(roomID, userID string, f Frame) Envelope {
	msgType := TypeText
	if f.Type != "" {
		msgType = MessageType(f.Type)
	}

	var content string
	if f.Content != nil {
		content = *f.Content
	}

	return Envelope{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		UserID:      userID,
		Content:     content,
		Timestamp:   f.Timestamp,
		MessageType: msgType,
	}
}

// NewSystemEnvelope builds a system announcement for roomID.
func NewSystemEnvelope(roomID, content string) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		UserID:      SystemUser,
		Content:     content,
		MessageType: TypeSystem,
	}
}

func joinedEnvelope(roomID, username string) Envelope {
	return NewSystemEnvelope(roomID, username+" joined the chat")
}

func leftEnvelope(roomID, username string) Envelope {
	return NewSystemEnvelope(roomID, username+" left the chat")
}
