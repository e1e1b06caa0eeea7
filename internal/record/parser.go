package record

import (
	"bytes"
	"encoding/json"
	"time"
)

// rawLine is the tolerant top-level decoding of one JSONL line. Unknown
// fields are ignored by encoding/json by default; every field here is
// optional and takes its zero value when absent.
type rawLine struct {
	Type       string          `json:"type"`
	UUID       string          `json:"uuid"`
	SessionID  string          `json:"sessionId"`
	Timestamp  string          `json:"timestamp"`
	Cwd        string          `json:"cwd"`
	GitBranch  string          `json:"gitBranch"`
	Subtype    string          `json:"subtype"`
	DurationMs int64           `json:"durationMs"`
	Message    json.RawMessage `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Usage   *rawUsage       `json:"usage"`
	Content json.RawMessage `json:"content"`
}

type rawUsage struct {
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// ParseBatch decodes as many complete (newline-terminated) lines as are
// present in remainder+data, returning them in order along with whatever
// unterminated trailing bytes remain. Callers MUST prepend the returned
// remainder to the next chunk -- parsing is associative regardless of how
// the byte stream is split into chunks.
func ParseBatch(data []byte, remainder []byte) (records []Record, newRemainder []byte) {
	buf := remainder
	if len(data) > 0 {
		buf = append(append([]byte(nil), remainder...), data...)
	}

	start := 0
	for {
		idx := bytes.IndexByte(buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := buf[start : start+idx]
		start += idx + 1

		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
	}

	return records, append([]byte(nil), buf[start:]...)
}

func parseLine(line []byte) (Record, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Record{}, false
	}

	var raw rawLine
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Record{}, false
	}
	if raw.Type == "" {
		return Record{}, false
	}

	rec := Record{
		UUID:      raw.UUID,
		SessionID: raw.SessionID,
		Cwd:       raw.Cwd,
		GitBranch: raw.GitBranch,
	}
	if raw.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			rec.TimestampMs = t.UnixMilli()
		}
	}

	switch raw.Type {
	case "user":
		rec.Type = TypeUser
		parseUserBody(raw.Message, &rec)
	case "assistant":
		rec.Type = TypeAssistant
		parseAssistantBody(raw.Message, &rec)
	case "system":
		rec.Type = TypeSystem
		rec.Subtype = raw.Subtype
		rec.DurationMs = raw.DurationMs
	case "progress":
		rec.Type = TypeProgress
	default:
		rec.Type = TypeOther
	}

	return rec, true
}

func parseUserBody(raw json.RawMessage, rec *Record) {
	if len(raw) == 0 {
		return
	}
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	decodeUserContent(msg.Content, rec)
}

func decodeUserContent(raw json.RawMessage, rec *Record) {
	if len(raw) == 0 {
		return
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		rec.UserIsString = true
		rec.UserText = s
		return
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return
	}
	for _, b := range blocks {
		if b.Type != "tool_result" {
			continue
		}
		rec.UserContent = append(rec.UserContent, ContentBlock{
			Type:         BlockToolResult,
			ToolResultID: b.ToolUseID,
			IsError:      b.IsError,
			ResultText:   extractResultText(b.Content),
		})
	}
}

func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" {
				return b.Text
			}
		}
	}
	return ""
}

func parseAssistantBody(raw json.RawMessage, rec *Record) {
	if len(raw) == 0 {
		return
	}
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	rec.Model = msg.Model
	if msg.Usage != nil {
		rec.Usage = &Usage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		}
	}

	// A missing content field decodes to nil blocks -- an empty sequence.
	if len(msg.Content) == 0 {
		return
	}
	var blocks []rawBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			rec.Content = append(rec.Content, ContentBlock{Type: BlockText, Text: b.Text})
		case "thinking":
			rec.Content = append(rec.Content, ContentBlock{Type: BlockThinking, Text: b.Thinking})
		case "tool_use":
			rec.Content = append(rec.Content, ContentBlock{
				Type:      BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: b.Input,
			})
		}
	}
}
