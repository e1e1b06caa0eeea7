package registry

import (
	"testing"

	"github.com/sessiontrace/backend/internal/record"
	"github.com/sessiontrace/backend/internal/tailer"
)

func TestHandleEntriesGatesOnEmittedModel(t *testing.T) {
	events := make(chan Event, 32)
	r := New(nil, events)

	r.mu.Lock()
	tr := r.newTracked("s1", "/p", "/p/s1.jsonl", "/p", "p")
	r.sessions["s1"] = tr
	r.mu.Unlock()

	// A User record before the model is known must not be visible and
	// must produce no events.
	r.handleEntries(tailer.Batch{SessionID: "s1", Records: []record.Record{
		{Type: record.TypeUser, TimestampMs: 1, UserIsString: true, UserText: "do the thing"},
	}})
	select {
	case ev := <-events:
		t.Fatalf("expected no events before model known, got %+v", ev)
	default:
	}
	if summary, _ := r.Detail("s1"); summary != nil {
		t.Fatalf("expected session not yet emitted, got %+v", summary)
	}

	// The first Assistant record reveals the model: emits exactly one
	// SessionDiscovered plus any message/state events it triggers.
	r.handleEntries(tailer.Batch{SessionID: "s1", Records: []record.Record{
		{
			Type: record.TypeAssistant, TimestampMs: 2, Model: "claude-sonnet-4-20250514",
			Usage:   &record.Usage{InputTokens: 10, OutputTokens: 5},
			Content: []record.ContentBlock{{Type: record.BlockText, Text: "hello"}},
		},
	}})

	var sawDiscovered, sawUsage, sawMessage bool
	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			switch ev.Kind {
			case SessionDiscovered:
				sawDiscovered = true
			case UsageUpdated:
				sawUsage = true
			case NewMessage:
				sawMessage = true
			}
		default:
		}
	}
	if !sawDiscovered || !sawUsage || !sawMessage {
		t.Fatalf("expected discovered+usage+message events, got discovered=%v usage=%v message=%v", sawDiscovered, sawUsage, sawMessage)
	}

	summary, msgs := r.Detail("s1")
	if summary == nil || summary.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("expected model adopted, got %+v", summary)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestHandleEntriesMetadataAndCurrentTask(t *testing.T) {
	events := make(chan Event, 32)
	r := New(nil, events)

	r.mu.Lock()
	r.sessions["s1"] = r.newTracked("s1", "/p", "/p/s1.jsonl", "/p", "p")
	r.mu.Unlock()

	r.handleEntries(tailer.Batch{SessionID: "s1", Records: []record.Record{
		{Type: record.TypeUser, TimestampMs: 1, Cwd: "/work/dir", GitBranch: "feature-x", UserIsString: true, UserText: "fix the parser bug"},
	}})

	r.mu.RLock()
	tr := r.sessions["s1"]
	wd, branch, task := tr.workingDirectory, tr.gitBranch, tr.currentTask
	r.mu.RUnlock()

	if wd != "/work/dir" || branch != "feature-x" {
		t.Fatalf("unexpected metadata: wd=%q branch=%q", wd, branch)
	}
	if task == "" {
		t.Fatalf("expected current_task to be set from first user turn")
	}
}
