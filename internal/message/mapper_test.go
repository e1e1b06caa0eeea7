package message

import (
	"testing"

	"github.com/sessiontrace/backend/internal/record"
)

func TestMapUserText(t *testing.T) {
	m := NewMapper()
	rec := record.Record{Type: record.TypeUser, UserIsString: true, UserText: "hi there"}
	msgs := m.Map("s1", rec)
	if len(msgs) != 1 || msgs[0].Type != TypeText || msgs[0].Role != RoleUser {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMapUserTextTruncation(t *testing.T) {
	m := NewMapper()
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	rec := record.Record{Type: record.TypeUser, UserIsString: true, UserText: string(long)}
	msgs := m.Map("s1", rec)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message")
	}
	if len(msgs[0].Content) > 503 {
		t.Fatalf("expected truncation near 500 bytes, got %d", len(msgs[0].Content))
	}
}

func TestMapUserToolResult(t *testing.T) {
	m := NewMapper()
	rec := record.Record{
		Type: record.TypeUser,
		UserContent: []record.ContentBlock{
			{Type: record.BlockToolResult, ToolResultID: "t1", IsError: true, ResultText: "boom"},
		},
	}
	msgs := m.Map("s1", rec)
	if len(msgs) != 1 || msgs[0].Type != TypeToolResult {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Metadata["toolUseId"] != "t1" || msgs[0].Metadata["isError"] != true {
		t.Fatalf("unexpected metadata: %+v", msgs[0].Metadata)
	}
}

func TestMapAssistantTextAndToolUse(t *testing.T) {
	m := NewMapper()
	rec := record.Record{
		Type: record.TypeAssistant,
		UUID: "rec-1",
		Content: []record.ContentBlock{
			{Type: record.BlockText, Text: "thinking out loud"},
			{Type: record.BlockToolUse, ToolUseID: "id1", ToolName: "Bash"},
			{Type: record.BlockThinking, Text: "dropped"},
		},
	}
	msgs := m.Map("s1", rec)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (thinking dropped), got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Type != TypeText || msgs[1].Type != TypeToolUse {
		t.Fatalf("unexpected message types: %+v", msgs)
	}
	if msgs[1].Content != "Bash" {
		t.Fatalf("expected tool name as content, got %q", msgs[1].Content)
	}
	// Every message projected from one record reuses its uuid verbatim.
	if msgs[0].ID != "rec-1" || msgs[1].ID != "rec-1" {
		t.Fatalf("expected both messages to carry the record uuid, got %q and %q", msgs[0].ID, msgs[1].ID)
	}
}

func TestMapSystemTurnDuration(t *testing.T) {
	m := NewMapper()
	rec := record.Record{Type: record.TypeSystem, Subtype: "turn_duration", DurationMs: 250}
	msgs := m.Map("s1", rec)
	if len(msgs) != 1 || msgs[0].Type != TypeStateChange {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Metadata["durationMs"] != int64(250) {
		t.Fatalf("unexpected metadata: %+v", msgs[0].Metadata)
	}
}

func TestMapOtherProducesNoMessages(t *testing.T) {
	m := NewMapper()
	rec := record.Record{Type: record.TypeOther}
	if msgs := m.Map("s1", rec); len(msgs) != 0 {
		t.Fatalf("expected no messages for Other, got %+v", msgs)
	}
}

func TestMintedIDsAreMonotonic(t *testing.T) {
	m := NewMapper()
	rec1 := record.Record{Type: record.TypeUser, UserIsString: true, UserText: "a"}
	rec2 := record.Record{Type: record.TypeUser, UserIsString: true, UserText: "b"}
	msgs1 := m.Map("s1", rec1)
	msgs2 := m.Map("s1", rec2)
	if msgs1[0].ID == msgs2[0].ID {
		t.Fatalf("expected distinct minted ids, got %q twice", msgs1[0].ID)
	}
}
