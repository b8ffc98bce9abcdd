package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeData re-interprets the envelope's data object as a typed payload and
// validates it. out must be a pointer to a payload struct.
func (m *Message) DecodeData(out interface{}) error {
	buf, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", m.Type, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s data: %w", m.Type, err)
	}
	return nil
}

// WorkflowStartedPayload announces a new collaborative workflow session.
type WorkflowStartedPayload struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	Prompt     string `json:"prompt"`
}

// WorkflowProgressPayload reports execution progress for a session.
type WorkflowProgressPayload struct {
	SessionID   string  `json:"session_id"`
	CurrentStep int     `json:"current_step" validate:"min=0"`
	TotalSteps  int     `json:"total_steps" validate:"min=0"`
	Progress    float64 `json:"progress" validate:"min=0,max=1"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
}

// SceneUpdatePayload mutates properties of one scene entity.
type SceneUpdatePayload struct {
	ObjectID   string                 `json:"object_id" validate:"required"`
	Properties map[string]interface{} `json:"properties"`
}

// CommandPayload relays a natural-language command to collaborators.
type CommandPayload struct {
	Command string `json:"command" validate:"required"`
}

// ChatPayload carries a chat line.
type ChatPayload struct {
	Text string `json:"text" validate:"required"`
}

// CursorPayload shares a pointer location in scene coordinates.
type CursorPayload struct {
	Position map[string]float64 `json:"position" validate:"required"`
}

// SelectionPayload shares the sender's selected entity set.
type SelectionPayload struct {
	Selected []string `json:"selected"`
}
