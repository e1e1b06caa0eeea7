package message

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/sessiontrace/backend/internal/record"
)

// truncate cuts s to at most n bytes, on a UTF-8 rune boundary, appending
// "..." when truncation occurred.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isUTF8Boundary(s, cut) {
		cut--
	}
	return s[:cut] + "..."
}

func isUTF8Boundary(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	// A byte is not a continuation byte (10xxxxxx) iff it starts a rune.
	return s[i]&0xC0 != 0x80
}

// Mapper projects Records into Messages, minting ids for records that
// arrive without a uuid.
type Mapper struct {
	counter atomic.Uint64
}

func NewMapper() *Mapper {
	return &Mapper{}
}

func (m *Mapper) nextID() string {
	n := m.counter.Add(1)
	return "msg_" + strconv.FormatUint(n, 10)
}

// idFor returns rec's uuid verbatim when present (every message
// projected from the record shares it), otherwise a minted monotonic id.
func (m *Mapper) idFor(rec record.Record) string {
	if rec.UUID != "" {
		return rec.UUID
	}
	return m.nextID()
}

// Map projects one Record into zero or more Messages.
func (m *Mapper) Map(sessionID string, rec record.Record) []Message {
	switch rec.Type {
	case record.TypeUser:
		return m.mapUser(sessionID, rec)
	case record.TypeAssistant:
		return m.mapAssistant(sessionID, rec)
	case record.TypeSystem:
		return m.mapSystem(sessionID, rec)
	default:
		return nil
	}
}

func (m *Mapper) mapUser(sessionID string, rec record.Record) []Message {
	if rec.UserIsString {
		return []Message{{
			ID:          m.idFor(rec),
			SessionID:   sessionID,
			TimestampMs: rec.TimestampMs,
			Role:        RoleUser,
			Type:        TypeText,
			Content:     truncate(rec.UserText, 500),
		}}
	}

	total := len(rec.UserContent)
	if total == 0 {
		return nil
	}
	msgs := make([]Message, 0, total)
	for _, b := range rec.UserContent {
		if b.Type != record.BlockToolResult {
			continue
		}
		msgs = append(msgs, Message{
			ID:          m.idFor(rec),
			SessionID:   sessionID,
			TimestampMs: rec.TimestampMs,
			Role:        RoleUser,
			Type:        TypeToolResult,
			Content:     truncate(b.ResultText, 300),
			Metadata: map[string]any{
				"toolUseId": b.ToolResultID,
				"isError":   b.IsError,
			},
		})
	}
	return msgs
}

func (m *Mapper) mapAssistant(sessionID string, rec record.Record) []Message {
	total := len(rec.Content)
	if total == 0 {
		return nil
	}
	msgs := make([]Message, 0, total)
	for _, b := range rec.Content {
		switch b.Type {
		case record.BlockText:
			msgs = append(msgs, Message{
				ID:          m.idFor(rec),
				SessionID:   sessionID,
				TimestampMs: rec.TimestampMs,
				Role:        RoleAssistant,
				Type:        TypeText,
				Content:     b.Text,
			})
		case record.BlockToolUse:
			msgs = append(msgs, Message{
				ID:          m.idFor(rec),
				SessionID:   sessionID,
				TimestampMs: rec.TimestampMs,
				Role:        RoleAssistant,
				Type:        TypeToolUse,
				Content:     b.ToolName,
				Metadata: map[string]any{
					"toolName": b.ToolName,
					"toolId":   b.ToolUseID,
					"input":    b.ToolInput,
				},
			})
		case record.BlockThinking:
			// dropped: thinking blocks are internal reasoning, not a
			// user-facing message
		}
	}
	return msgs
}

func (m *Mapper) mapSystem(sessionID string, rec record.Record) []Message {
	if rec.Subtype != "turn_duration" {
		return nil
	}
	return []Message{{
		ID:          m.idFor(rec),
		SessionID:   sessionID,
		TimestampMs: rec.TimestampMs,
		Role:        RoleSystem,
		Type:        TypeStateChange,
		Content:     fmt.Sprintf("Turn completed (%dms)", rec.DurationMs),
		Metadata: map[string]any{
			"durationMs": rec.DurationMs,
		},
	}}
}
