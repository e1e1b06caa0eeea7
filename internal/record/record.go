// Package record converts the byte stream of an agent's per-session
// append-only JSONL log into typed Records.
package record

import "encoding/json"

// Type discriminates the top-level record kinds the log emits.
type Type string

const (
	TypeUser      Type = "user"
	TypeAssistant Type = "assistant"
	TypeSystem    Type = "system"
	TypeProgress  Type = "progress"
	TypeOther     Type = "other"
)

// BlockType discriminates Assistant/User content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of an Assistant or User array-form content
// list. Only the fields relevant to a given BlockType are populated.
type ContentBlock struct {
	Type BlockType

	// Text / Thinking
	Text string

	// ToolUse
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// ToolResult
	ToolResultID string
	IsError      bool
	ResultText   string
}

// Usage carries a single token-usage snapshot as reported by the model.
type Usage struct {
	InputTokens              uint64
	OutputTokens             uint64
	CacheReadInputTokens     uint64
	CacheCreationInputTokens uint64
}

// Record is the normalized, tolerant decoding of one JSONL line.
type Record struct {
	Type      Type
	UUID      string
	SessionID string

	// TimestampMs is the record's own timestamp, milliseconds since epoch.
	// Zero means the line carried no parseable timestamp.
	TimestampMs int64

	// User / Assistant shared fields.
	Cwd       string
	GitBranch string

	// User: either a plain string body, or an array of content blocks
	// (only tool_result blocks carry meaning for User records).
	UserText     string
	UserIsString bool
	UserContent  []ContentBlock

	// Assistant
	Model   string
	Usage   *Usage
	Content []ContentBlock

	// System
	Subtype    string
	DurationMs int64
}

// HasToolUse reports whether an Assistant record's content contains at
// least one tool_use block.
func (r Record) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// HasErrorToolResult reports whether a User record's array content carries
// a tool_result block with is_error=true -- the probe used by the state
// machine's Error transition.
func (r Record) HasErrorToolResult() bool {
	for _, b := range r.UserContent {
		if b.Type == BlockToolResult && b.IsError {
			return true
		}
	}
	return false
}
