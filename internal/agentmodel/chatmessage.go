package agentmodel

import (
	"fmt"
	"time"
)

// Role is the speaker of a ChatMessage turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ChatMessage is one turn in a conversation: role + content (spec.md §3).
// It is immutable once constructed via NewChatMessage.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewChatMessage validates and constructs a ChatMessage: content must be
// non-empty and role must be one of the four recognized roles.
func NewChatMessage(role Role, content string, timestamp time.Time, metadata map[string]any) (*ChatMessage, error) {
	if content == "" {
		return nil, fmt.Errorf("chat message content must be non-empty")
	}
	if !role.valid() {
		return nil, fmt.Errorf("chat message role %q is not one of system|user|assistant|tool", role)
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return &ChatMessage{Role: role, Content: content, Timestamp: timestamp, Metadata: metadata}, nil
}
