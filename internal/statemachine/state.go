// Package statemachine implements the per-session lifecycle state machine:
// event-driven transitions from the record stream, plus wall-clock-driven
// transitions on a tick.
package statemachine

import (
	"encoding/json"
	"time"

	"github.com/sessiontrace/backend/internal/message"
	"github.com/sessiontrace/backend/internal/record"
)

// State is a session's inferred lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Idle
	PermissionWaiting
	Error
)

var stateNames = map[State]string{
	Running:           "running",
	Idle:              "idle",
	PermissionWaiting: "permission_waiting",
	Error:             "error",
	Stopped:           "stopped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Thresholds are the wall-clock cutoffs the tick transitions compare
// elapsed silence against. Zero fields fall back to the defaults.
type Thresholds struct {
	TextOnlyIdleAfter      time.Duration
	ToolUsePermissionAfter time.Duration
	RunningStopAfter       time.Duration
	IdleStopAfter          time.Duration
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TextOnlyIdleAfter:      10 * time.Second,
		ToolUsePermissionAfter: 30 * time.Second,
		RunningStopAfter:       30 * time.Minute,
		IdleStopAfter:          30 * time.Minute,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.TextOnlyIdleAfter <= 0 {
		t.TextOnlyIdleAfter = def.TextOnlyIdleAfter
	}
	if t.ToolUsePermissionAfter <= 0 {
		t.ToolUsePermissionAfter = def.ToolUsePermissionAfter
	}
	if t.RunningStopAfter <= 0 {
		t.RunningStopAfter = def.RunningStopAfter
	}
	if t.IdleStopAfter <= 0 {
		t.IdleStopAfter = def.IdleStopAfter
	}
	return t
}

// Machine holds the per-session fields the state machine owns. The zero
// value is NOT ready to use -- call New or NewWithThresholds.
type Machine struct {
	State                 State
	LastActivityAtMs      int64
	LastEntryTimestampMs  int64
	LastAssistantToolUse  bool
	LastAssistantTextOnly bool

	thresholds Thresholds
}

// New returns a Machine in its initial Stopped state with default
// thresholds.
func New() *Machine {
	return NewWithThresholds(DefaultThresholds())
}

// NewWithThresholds returns a Machine in its initial Stopped state using
// t's cutoffs; zero fields take their defaults.
func NewWithThresholds(t Thresholds) *Machine {
	return &Machine{State: Stopped, thresholds: t.withDefaults()}
}

func (m *Machine) clearAssistantFlags() {
	m.LastAssistantToolUse = false
	m.LastAssistantTextOnly = false
}

// ApplyRecord advances the machine in response to one record. Returns
// whether State changed.
func (m *Machine) ApplyRecord(rec record.Record) (changed bool) {
	prev := m.State

	if rec.TimestampMs != 0 {
		m.LastActivityAtMs = rec.TimestampMs
		m.LastEntryTimestampMs = rec.TimestampMs
	}

	switch rec.Type {
	case record.TypeSystem:
		if rec.Subtype == "turn_duration" {
			m.State = Idle
			m.clearAssistantFlags()
		}

	case record.TypeUser:
		m.applyUser(rec)

	case record.TypeAssistant:
		m.State = Running
		if rec.HasToolUse() {
			m.LastAssistantToolUse = true
			m.LastAssistantTextOnly = false
		} else {
			m.LastAssistantToolUse = false
			m.LastAssistantTextOnly = true
		}
		// The error-pattern probe only ever yields true for a User
		// record's tool_result blocks; Assistant records never error
		// out through this path.

	case record.TypeProgress:
		m.State = Running
		m.clearAssistantFlags()

	case record.TypeOther:
		// no transition
	}

	return m.State != prev
}

func (m *Machine) applyUser(rec record.Record) {
	if rec.UserIsString {
		text := rec.UserText
		switch {
		case message.ContainsExitCommand(text):
			m.State = Stopped
			m.clearAssistantFlags()
			return
		case message.ContainsLocalCommandEcho(text):
			return // no transition
		default:
			m.State = Running
			m.clearAssistantFlags()
		}
	} else {
		// Array content (e.g. an echoed tool_result from a prior tool
		// loop): treated as ordinary activity, then possibly overridden
		// by the error probe below.
		m.State = Running
		m.clearAssistantFlags()
	}

	if rec.HasErrorToolResult() {
		m.State = Error
	}
}

// Tick runs the wall-clock-driven transitions given the current time
// (milliseconds since epoch). Only the first matching rule fires.
func (m *Machine) Tick(nowMs int64) (newState State, changed bool) {
	prev := m.State
	elapsed := nowMs - m.LastActivityAtMs

	switch {
	case m.State == Running && m.LastAssistantTextOnly && elapsed >= m.thresholds.TextOnlyIdleAfter.Milliseconds():
		m.State = Idle
		m.LastAssistantTextOnly = false
	case m.State == Running && m.LastAssistantToolUse && elapsed >= m.thresholds.ToolUsePermissionAfter.Milliseconds():
		m.State = PermissionWaiting
	case m.State == Running && elapsed >= m.thresholds.RunningStopAfter.Milliseconds():
		m.State = Stopped
	case m.State == Idle && elapsed >= m.thresholds.IdleStopAfter.Milliseconds():
		m.State = Stopped
	}

	return m.State, m.State != prev
}

// ForceStop transitions the machine directly to Stopped, used by the
// registry when a newer session supersedes this one under the same
// discovery project path.
func (m *Machine) ForceStop() (changed bool) {
	if m.State == Stopped {
		return false
	}
	m.State = Stopped
	m.clearAssistantFlags()
	return true
}
