package registry

import "github.com/sessiontrace/backend/internal/message"

// EventKind names a domain event the Registry publishes to the event bus.
type EventKind string

const (
	SessionDiscovered EventKind = "session_discovered"
	SessionRemoved    EventKind = "session_removed"
	StateChanged      EventKind = "state_changed"
	UsageUpdated      EventKind = "usage_updated"
	NewMessage        EventKind = "new_message"
	GitStatusUpdated  EventKind = "git_status_updated"
)

// Event is one published domain event. Fields are populated according to
// Kind; irrelevant fields are left zero.
type Event struct {
	Kind      EventKind
	SessionID string

	Session *Summary // SessionDiscovered, StateChanged, UsageUpdated, GitStatusUpdated carry the fresh summary

	PrevState string // StateChanged only
	CurState  string // StateChanged only

	Message *message.Message // NewMessage only
}
