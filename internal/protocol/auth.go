package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired marks first frames that are not authenticate frames.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidUser marks authenticate frames without a usable user id.
	ErrInvalidUser = errors.New("invalid user id")
)

// AuthFrame is the first frame a client must send after connecting. Unlike
// every later frame it is not a Message envelope; its fields sit at the top
// level.
type AuthFrame struct {
	Type        string   `json:"type"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// ParseAuthFrame decodes and checks a handshake frame. A missing username is
// defaulted from the user id. The error distinguishes the close code to use:
// ErrAuthRequired maps to 4001, ErrInvalidUser to 4002.
func ParseAuthFrame(raw []byte) (*AuthFrame, error) {
	var frame AuthFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	if frame.Type != "authenticate" {
		return nil, fmt.Errorf("%w: first frame is %q", ErrAuthRequired, frame.Type)
	}
	if frame.UserID == "" {
		return nil, ErrInvalidUser
	}
	if frame.Username == "" {
		frame.Username = DefaultUsername(frame.UserID)
	}
	return &frame, nil
}

// DefaultUsername derives a display name from a user id.
func DefaultUsername(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "User-" + short
}
