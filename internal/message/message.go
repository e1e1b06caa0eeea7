// Package message projects parsed records into user-facing Messages and
// extracts the scrubbed short task summary from the first user turn.
package message

import (
	"encoding/json"
	"time"
)

// Role is the external, snake_case role of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Type is the external, snake_case type tag of a Message.
type Type string

const (
	TypeText        Type = "text"
	TypeToolUse     Type = "tool_use"
	TypeToolResult  Type = "tool_result"
	TypeThinking    Type = "thinking"
	TypeStateChange Type = "state_change"
	TypeError       Type = "error"
)

// Message is the user-facing projection of a raw Record. Timestamps are
// tracked as milliseconds since epoch internally and rendered as RFC-3339
// strings on the wire.
type Message struct {
	ID          string
	SessionID   string
	TimestampMs int64
	Role        Role
	Type        Type
	Content     string
	Metadata    map[string]any
}

// wireMessage is Message's camelCase wire shape.
type wireMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Timestamp string         `json:"timestamp"`
	Role      Role           `json:"role"`
	Type      Type           `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	ts := ""
	if m.TimestampMs != 0 {
		ts = time.UnixMilli(m.TimestampMs).UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(wireMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		Timestamp: ts,
		Role:      m.Role,
		Type:      m.Type,
		Content:   m.Content,
		Metadata:  m.Metadata,
	})
}
