package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether the role is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single chat message exchanged with a model.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Name    string      `json:"name,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// UnmarshalJSON decodes a message strictly: role and content must be present
// and be strings, and unknown fields are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrInvalidInput(CodeInvalidMessage, "message must be an object").WithCause(err)
	}
	for key := range raw {
		switch key {
		case "role", "content", "name":
		default:
			return ErrInvalidInput(CodeInvalidMessage, fmt.Sprintf("unknown message field %q", key))
		}
	}

	roleRaw, ok := raw["role"]
	if !ok || bytes.Equal(roleRaw, []byte("null")) {
		return ErrInvalidInput(CodeInvalidMessage, "message role is required")
	}
	contentRaw, ok := raw["content"]
	if !ok || bytes.Equal(contentRaw, []byte("null")) {
		return ErrInvalidInput(CodeInvalidMessage, "message content is required")
	}

	var role, content, name string
	if err := json.Unmarshal(roleRaw, &role); err != nil {
		return ErrInvalidInput(CodeInvalidMessage, "message role must be a string")
	}
	if err := json.Unmarshal(contentRaw, &content); err != nil {
		return ErrInvalidInput(CodeInvalidMessage, "message content must be a string")
	}
	if nameRaw, ok := raw["name"]; ok && !bytes.Equal(nameRaw, []byte("null")) {
		if err := json.Unmarshal(nameRaw, &name); err != nil {
			return ErrInvalidInput(CodeInvalidMessage, "message name must be a string")
		}
	}

	m.Role = MessageRole(role)
	m.Content = content
	m.Name = name
	return nil
}

// ValidateMessages checks that the list is non-empty and every message has a
// known role. Content may be empty.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return ErrInvalidInput(CodeEmptyMessages, "messages list is empty")
	}
	for i, msg := range messages {
		if msg.Role == "" {
			return ErrInvalidInput(CodeInvalidMessage, fmt.Sprintf("message %d has no role", i))
		}
		if !msg.Role.Valid() {
			return ErrInvalidInput(CodeInvalidMessage, fmt.Sprintf("message %d has unknown role %q", i, msg.Role))
		}
	}
	return nil
}

// DecodeMessages parses a JSON array of messages strictly and validates it.
func DecodeMessages(data []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		var domErr *DomainError
		if errors.As(err, &domErr) {
			return nil, domErr
		}
		return nil, ErrInvalidInput(CodeInvalidMessage, "messages must be a JSON array").WithCause(err)
	}
	if err := ValidateMessages(messages); err != nil {
		return nil, err
	}
	return messages, nil
}
