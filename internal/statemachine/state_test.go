package statemachine

import (
	"testing"

	"github.com/sessiontrace/backend/internal/record"
)

func TestInitialStateIsStopped(t *testing.T) {
	m := New()
	if m.State != Stopped {
		t.Fatalf("expected initial state Stopped, got %v", m.State)
	}
}

func TestTextOnlyGoesIdleAfterTenSeconds(t *testing.T) {
	// S4
	m := New()
	m.ApplyRecord(record.Record{
		Type:        record.TypeAssistant,
		TimestampMs: 1000,
		Content:     []record.ContentBlock{{Type: record.BlockText, Text: "done"}},
	})
	if m.State != Running || !m.LastAssistantTextOnly {
		t.Fatalf("expected Running+textOnly, got %v textOnly=%v", m.State, m.LastAssistantTextOnly)
	}
	if _, changed := m.Tick(1000 + 9999); changed {
		t.Fatalf("should not transition before 10s elapsed")
	}
	state, changed := m.Tick(1000 + 10000)
	if !changed || state != Idle {
		t.Fatalf("expected Idle at 10s, got %v changed=%v", state, changed)
	}
}

func TestToolUseGoesPermissionWaitingAfterThirtySeconds(t *testing.T) {
	// S5
	m := New()
	m.ApplyRecord(record.Record{
		Type:        record.TypeAssistant,
		TimestampMs: 5000,
		Content:     []record.ContentBlock{{Type: record.BlockToolUse, ToolUseID: "t1", ToolName: "Bash"}},
	})
	if m.State != Running || !m.LastAssistantToolUse {
		t.Fatalf("expected Running+toolUse, got %v", m.State)
	}
	if _, changed := m.Tick(5000 + 29999); changed {
		t.Fatalf("should not transition before 30s elapsed")
	}
	state, changed := m.Tick(5000 + 30000)
	if !changed || state != PermissionWaiting {
		t.Fatalf("expected PermissionWaiting at 30s, got %v changed=%v", state, changed)
	}

	// A Progress record resets activity and clears flags; subsequent
	// silence must not re-trigger PermissionWaiting.
	m.ApplyRecord(record.Record{Type: record.TypeProgress, TimestampMs: 40000})
	if m.State != Running || m.LastAssistantToolUse {
		t.Fatalf("expected Progress to reset to Running with flags cleared, got %v toolUse=%v", m.State, m.LastAssistantToolUse)
	}
	if _, changed := m.Tick(40000 + 30000); changed {
		t.Fatalf("should not re-trigger PermissionWaiting without a new tool_use")
	}
}

func TestExitCommandForcesStoppedFromAnyState(t *testing.T) {
	// S6
	states := []func(m *Machine){
		func(m *Machine) {},
		func(m *Machine) { m.ApplyRecord(record.Record{Type: record.TypeAssistant, TimestampMs: 1}) },
		func(m *Machine) {
			m.ApplyRecord(record.Record{Type: record.TypeAssistant, TimestampMs: 1,
				Content: []record.ContentBlock{{Type: record.BlockToolUse}}})
			m.Tick(1 + 30000)
		},
	}
	for i, setup := range states {
		m := New()
		setup(m)
		changed := m.ApplyRecord(record.Record{
			Type: record.TypeUser, TimestampMs: 2, UserIsString: true,
			UserText: "<command-name>/exit</command-name>",
		})
		if m.State != Stopped {
			t.Fatalf("case %d: expected Stopped, got %v changed=%v", i, m.State, changed)
		}
	}
}

func TestLocalCommandEchoDoesNotTransition(t *testing.T) {
	m := New()
	m.State = Idle
	changed := m.ApplyRecord(record.Record{
		Type: record.TypeUser, TimestampMs: 1, UserIsString: true,
		UserText: "<local-command-stdout>ok</local-command-stdout>",
	})
	if changed || m.State != Idle {
		t.Fatalf("expected no transition on local-command echo, got %v changed=%v", m.State, changed)
	}
}

func TestUserToolResultErrorGoesError(t *testing.T) {
	m := New()
	changed := m.ApplyRecord(record.Record{
		Type:        record.TypeUser,
		TimestampMs: 1,
		UserContent: []record.ContentBlock{{Type: record.BlockToolResult, IsError: true, ResultText: "boom"}},
	})
	if !changed || m.State != Error {
		t.Fatalf("expected Error, got %v changed=%v", m.State, changed)
	}
}

func TestUserToolResultWithoutErrorGoesRunning(t *testing.T) {
	m := New()
	m.ApplyRecord(record.Record{
		Type:        record.TypeUser,
		TimestampMs: 1,
		UserContent: []record.ContentBlock{{Type: record.BlockToolResult, IsError: false, ResultText: "ok"}},
	})
	if m.State != Running {
		t.Fatalf("expected Running, got %v", m.State)
	}
}

func TestSystemTurnDurationGoesIdle(t *testing.T) {
	m := New()
	m.State = Running
	m.LastAssistantTextOnly = true
	changed := m.ApplyRecord(record.Record{Type: record.TypeSystem, Subtype: "turn_duration", TimestampMs: 1, DurationMs: 50})
	if !changed || m.State != Idle || m.LastAssistantTextOnly {
		t.Fatalf("expected Idle with flags cleared, got %v textOnly=%v", m.State, m.LastAssistantTextOnly)
	}
}

func TestRunningStopsAfterThirtyMinutesOfSilence(t *testing.T) {
	m := New()
	m.ApplyRecord(record.Record{Type: record.TypeProgress, TimestampMs: 0})
	state, changed := m.Tick(30 * 60_000)
	if !changed || state != Stopped {
		t.Fatalf("expected Stopped after 30min, got %v changed=%v", state, changed)
	}
}

func TestIdleStopsAfterThirtyMinutesOfSilence(t *testing.T) {
	m := New()
	m.ApplyRecord(record.Record{Type: record.TypeSystem, Subtype: "turn_duration", TimestampMs: 0})
	state, changed := m.Tick(30 * 60_000)
	if !changed || state != Stopped {
		t.Fatalf("expected Stopped after 30min idle, got %v changed=%v", state, changed)
	}
}

func TestOtherRecordNeverTransitions(t *testing.T) {
	m := New()
	m.State = PermissionWaiting
	changed := m.ApplyRecord(record.Record{Type: record.TypeOther, TimestampMs: 1})
	if changed || m.State != PermissionWaiting {
		t.Fatalf("expected no transition for Other, got %v changed=%v", m.State, changed)
	}
}

func TestForceStopFromNonTerminal(t *testing.T) {
	m := New()
	m.State = Running
	if changed := m.ForceStop(); !changed || m.State != Stopped {
		t.Fatalf("expected ForceStop to stop, got %v changed=%v", m.State, changed)
	}
	if changed := m.ForceStop(); changed {
		t.Fatalf("expected no-op ForceStop when already Stopped")
	}
}

func TestTickOnlyFirstMatchingRuleFires(t *testing.T) {
	// A Running+textOnly session left silent past both the 10s and 30min
	// thresholds transitions to Idle, not directly to Stopped, because
	// the text-only rule is checked first.
	m := New()
	m.ApplyRecord(record.Record{
		Type: record.TypeAssistant, TimestampMs: 0,
		Content: []record.ContentBlock{{Type: record.BlockText, Text: "done"}},
	})
	state, changed := m.Tick(31 * 60_000)
	if !changed || state != Idle {
		t.Fatalf("expected Idle (first matching rule), got %v changed=%v", state, changed)
	}
}
