package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SenderSystem is the sender id stamped on server-originated messages.
const SenderSystem = "system"

// MaxFrameSize caps a single WebSocket frame in bytes.
const MaxFrameSize = 1 << 20

// WebSocket close codes in the private range used during the handshake.
const (
	CloseAuthRequired = 4001
	CloseInvalidUser  = 4002
	CloseServerFull   = 4003
)

// CloseGoingAway is the standard close code for server-initiated shutdown
// and idle reaping.
const CloseGoingAway = 1001

// Type identifies a realtime message category. The set is closed: frames
// carrying any other value are rejected at parse time.
type Type string

// Presence
const (
	TypeUserConnected    Type = "user_connected"
	TypeUserDisconnected Type = "user_disconnected"
	TypeUserList         Type = "user_list"
)

// Workflow lifecycle
const (
	TypeWorkflowStarted   Type = "workflow_started"
	TypeWorkflowProgress  Type = "workflow_progress"
	TypeWorkflowCompleted Type = "workflow_completed"
	TypeWorkflowError     Type = "workflow_error"
)

// Scene state
const (
	TypeSceneUpdate    Type = "scene_update"
	TypeObjectAdded    Type = "object_added"
	TypeObjectModified Type = "object_modified"
	TypeObjectDeleted  Type = "object_deleted"
)

// Command routing
const (
	TypeCommandReceived  Type = "command_received"
	TypeCommandExecuting Type = "command_executing"
	TypeCommandResult    Type = "command_result"
)

// Service signals
const (
	TypePerformanceUpdate Type = "performance_update"
	TypeSystemStatus      Type = "system_status"
	TypeErrorNotification Type = "error_notification"
)

// Collaboration
const (
	TypeChatMessage      Type = "chat_message"
	TypeCursorPosition   Type = "cursor_position"
	TypeSelectionChanged Type = "selection_changed"
)

var validTypes = map[Type]bool{
	TypeUserConnected:     true,
	TypeUserDisconnected:  true,
	TypeUserList:          true,
	TypeWorkflowStarted:   true,
	TypeWorkflowProgress:  true,
	TypeWorkflowCompleted: true,
	TypeWorkflowError:     true,
	TypeSceneUpdate:       true,
	TypeObjectAdded:       true,
	TypeObjectModified:    true,
	TypeObjectDeleted:     true,
	TypeCommandReceived:   true,
	TypeCommandExecuting:  true,
	TypeCommandResult:     true,
	TypePerformanceUpdate: true,
	TypeSystemStatus:      true,
	TypeErrorNotification: true,
	TypeChatMessage:       true,
	TypeCursorPosition:    true,
	TypeSelectionChanged:  true,
}

// Valid reports whether t is a declared message type.
func (t Type) Valid() bool {
	return validTypes[t]
}

var (
	// ErrMalformed marks frames that are not valid JSON envelopes.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType marks envelopes whose type is missing or undeclared.
	ErrUnknownType = errors.New("unknown message type")
)

// Message is the wire envelope carried by every frame after the handshake.
type Message struct {
	ID          string                 `json:"message_id"`
	Type        Type                   `json:"type"`
	SenderID    string                 `json:"sender_id"`
	Data        map[string]interface{} `json:"data"`
	Timestamp   time.Time              `json:"timestamp"`
	TargetUsers []string               `json:"target_users,omitempty"`
}

// NewMessage builds an envelope with a fresh id and UTC timestamp.
func NewMessage(t Type, senderID string, data map[string]interface{}) *Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		SenderID:  senderID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemMessage builds a server-originated envelope.
func NewSystemMessage(t Type, data map[string]interface{}) *Message {
	return NewMessage(t, SenderSystem, data)
}

// ParseEnvelope decodes a client frame. Missing ids and timestamps are
// filled in; the sender id is NOT trusted and must be overwritten by the
// dispatcher with the authenticated user's id.
func ParseEnvelope(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(msg.Type))
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Data == nil {
		msg.Data = map[string]interface{}{}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return &msg, nil
}

// Encode serializes the envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// TargetedAt reports whether the envelope should be delivered to the given
// user. An empty target list addresses everyone.
func (m *Message) TargetedAt(userID string) bool {
	if len(m.TargetUsers) == 0 {
		return true
	}
	for _, id := range m.TargetUsers {
		if id == userID {
			return true
		}
	}
	return false
}
