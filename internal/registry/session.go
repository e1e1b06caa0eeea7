package registry

import (
	"time"

	"github.com/sessiontrace/backend/internal/cost"
	"github.com/sessiontrace/backend/internal/message"
	"github.com/sessiontrace/backend/internal/statemachine"
)

const maxMessages = 500
const trimBulkTo = 400

// unknownModel is the placeholder model name until the first Assistant
// record reveals the real one.
const unknownModel = "unknown"

// providerTag identifies the source agent for every tracked session. The
// log format this registry consumes is Claude Code's session JSONL.
const providerTag = "claude-code"

// defaultGitProbeInterval and defaultGitCooldown drive the periodic git
// status probe when the config leaves them unset.
const (
	defaultGitProbeInterval = 3 * time.Second
	defaultGitCooldown      = 30 * time.Second
)

// GitStatus is the git probe's externally visible result for one session.
type GitStatus struct {
	Branch    string `json:"branch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Summary is the external, read-only snapshot of a tracked session, with
// timestamps rendered as RFC-3339 strings at the serialization boundary.
type Summary struct {
	SessionID            string     `json:"sessionId"`
	ProviderTag          string     `json:"providerTag"`
	DiscoveryProjectPath string     `json:"discoveryProjectPath"`
	LogFilePath          string     `json:"logFilePath"`
	ProjectPath          string     `json:"projectPath"`
	ProjectName          string     `json:"projectName"`
	WorkingDirectory     string     `json:"workingDirectory"`
	CurrentTask          string     `json:"currentTask"`
	Model                string     `json:"model"`
	StartedAt            string     `json:"startedAt"`
	LastActivityAt       string     `json:"lastActivityAt"`
	State                string     `json:"state"`
	CumulativeUsage      cost.Usage `json:"cumulativeUsage"`
	EstimatedCost        float64    `json:"estimatedCost"`
	GitStatus            GitStatus  `json:"gitStatus"`
}

// tracked is the Registry's internal, mutable representation. All fields
// are only touched while holding the Registry's lock.
type tracked struct {
	sessionID            string
	discoveryProjectPath string
	logFilePath          string

	projectPath      string
	projectName      string
	workingDirectory string
	currentTask      string
	model            string
	startedAtMs      int64

	usage         cost.Usage
	estimatedCost float64

	gitBranch          string
	gitAdditions       int
	gitDeletions       int
	lastGitDiffCheckMs int64

	messages []message.Message
	emitted  bool

	sm     *statemachine.Machine
	mapper *message.Mapper

	stopTailer func()
}

func (r *Registry) newTracked(sessionID, discoveryProjectPath, logFilePath, projectPath, projectName string) *tracked {
	return &tracked{
		sessionID:            sessionID,
		discoveryProjectPath: discoveryProjectPath,
		logFilePath:          logFilePath,
		projectPath:          projectPath,
		projectName:          projectName,
		model:                unknownModel,
		sm:                   statemachine.NewWithThresholds(r.thresholds),
		mapper:               message.NewMapper(),
	}
}

func msToRFC3339(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func (t *tracked) summary() *Summary {
	return &Summary{
		SessionID:            t.sessionID,
		ProviderTag:          providerTag,
		DiscoveryProjectPath: t.discoveryProjectPath,
		LogFilePath:          t.logFilePath,
		ProjectPath:          t.projectPath,
		ProjectName:          t.projectName,
		WorkingDirectory:     t.workingDirectory,
		CurrentTask:          t.currentTask,
		Model:                t.model,
		StartedAt:            msToRFC3339(t.startedAtMs),
		LastActivityAt:       msToRFC3339(t.sm.LastActivityAtMs),
		State:                t.sm.State.String(),
		CumulativeUsage:      t.usage,
		EstimatedCost:        t.estimatedCost,
		GitStatus: GitStatus{
			Branch:    t.gitBranch,
			Additions: t.gitAdditions,
			Deletions: t.gitDeletions,
		},
	}
}

// messageSnapshot copies the current message list. Always non-nil so
// callers can distinguish "no messages yet" from "unknown session".
func (t *tracked) messageSnapshot() []message.Message {
	out := make([]message.Message, 0, len(t.messages))
	return append(out, t.messages...)
}

func (t *tracked) appendMessages(msgs []message.Message) {
	t.messages = append(t.messages, msgs...)
	if len(t.messages) > maxMessages {
		drop := len(t.messages) - trimBulkTo
		t.messages = append([]message.Message(nil), t.messages[drop:]...)
	}
}
