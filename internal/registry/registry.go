// Package registry owns the map of tracked sessions, folds the record
// stream into session state, and publishes domain events.
package registry

import (
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sessiontrace/backend/internal/config"
	"github.com/sessiontrace/backend/internal/cost"
	"github.com/sessiontrace/backend/internal/discovery"
	"github.com/sessiontrace/backend/internal/message"
	"github.com/sessiontrace/backend/internal/record"
	"github.com/sessiontrace/backend/internal/statemachine"
	"github.com/sessiontrace/backend/internal/tailer"
)

// Registry is the single owner of all tracked sessions. The zero value is
// not ready to use; call New.
type Registry struct {
	cfg        *config.Config
	prices     cost.Table
	thresholds statemachine.Thresholds

	mu       sync.RWMutex
	sessions map[string]*tracked

	events chan<- Event
	queue  *unboundedBatchQueue

	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a Registry configured by cfg that publishes domain events
// on events. The caller owns events and must keep it drained (it
// typically feeds an event bus). A nil cfg takes the defaults.
func New(cfg *config.Config, events chan<- Event) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}

	prices := cost.DefaultTable()
	if len(cfg.Pricing) > 0 {
		prices = make(cost.Table, 0, len(cfg.Pricing))
		for _, tier := range cfg.Pricing {
			prices = append(prices, cost.Tier{
				Prefix:        tier.Prefix,
				Input:         tier.Input,
				Output:        tier.Output,
				CacheRead:     tier.CacheRead,
				CacheCreation: tier.CacheCreation,
			})
		}
	}

	return &Registry{
		cfg:    cfg,
		prices: prices,
		thresholds: statemachine.Thresholds{
			TextOnlyIdleAfter:      cfg.StateMachine.TextOnlyIdleAfter,
			ToolUsePermissionAfter: cfg.StateMachine.ToolUsePermissionAfter,
			RunningStopAfter:       cfg.StateMachine.RunningStopAfter,
			IdleStopAfter:          cfg.StateMachine.IdleStopAfter,
		},
		sessions: map[string]*tracked{},
		events:   events,
		queue:    newUnboundedBatchQueue(),
		done:     make(chan struct{}),
	}
}

// Start launches the registry's background consumers: the batch
// ingestion loop, the state-machine tick loop, and the git status probe.
func (r *Registry) Start() {
	r.wg.Add(3)
	go func() { defer r.wg.Done(); r.consumeBatches() }()
	go func() { defer r.wg.Done(); r.tickLoop() }()
	go func() { defer r.wg.Done(); r.gitStatusLoop() }()
}

// Stop requests cooperative shutdown of all background work and every
// live tailer.
func (r *Registry) Stop() {
	close(r.done)
	r.mu.Lock()
	for _, t := range r.sessions {
		if t.stopTailer != nil {
			t.stopTailer()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) publish(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// HandleDiscoveryEvent applies one discovery.Event: starting a Tailer for
// a newly Found session, or tearing one down on Removed.
func (r *Registry) HandleDiscoveryEvent(ev discovery.Event) {
	switch {
	case ev.Found != nil:
		r.handleFound(*ev.Found)
	case ev.RemovedID != "":
		r.handleRemoved(ev.RemovedID)
	}
}

func (r *Registry) handleFound(sess discovery.Session) {
	r.mu.Lock()
	if _, exists := r.sessions[sess.SessionID]; exists {
		r.mu.Unlock()
		return
	}

	t := r.newTracked(sess.SessionID, sess.ProjectPath, sess.LogFile, sess.ProjectPath, sess.ProjectName)
	r.sessions[sess.SessionID] = t

	// Any existing session under the same project is superseded: it will
	// never produce more data.
	var supersededEvents []Event
	for id, other := range r.sessions {
		if id == sess.SessionID {
			continue
		}
		if other.discoveryProjectPath != sess.ProjectPath {
			continue
		}
		switch other.sm.State {
		case statemachine.Running, statemachine.Idle, statemachine.PermissionWaiting, statemachine.Error:
			prevState := other.sm.State
			if other.sm.ForceStop() && other.emitted {
				supersededEvents = append(supersededEvents, Event{
					Kind:      StateChanged,
					SessionID: other.sessionID,
					Session:   other.summary(),
					PrevState: prevState.String(),
					CurState:  statemachine.Stopped.String(),
				})
			}
		}
	}
	r.mu.Unlock()

	for _, ev := range supersededEvents {
		r.publish(ev)
	}

	batchCh := make(chan tailer.Batch)
	tl := tailer.New(sess.SessionID, sess.LogFile, r.cfg.Tailer.PollInterval, batchCh)
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	t.stopTailer = func() {
		cancel()
		tl.Stop()
	}
	r.mu.Unlock()

	go tl.Run()
	go r.forwardToQueue(ctx, batchCh)
}

func (r *Registry) forwardToQueue(ctx context.Context, batchCh <-chan tailer.Batch) {
	for {
		select {
		case b, ok := <-batchCh:
			if !ok {
				return
			}
			select {
			case r.queue.in <- b:
			case <-ctx.Done():
				return
			case <-r.done:
				return
			}
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

func (r *Registry) handleRemoved(sessionID string) {
	r.mu.Lock()
	t, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if t.stopTailer != nil {
		t.stopTailer()
	}
	delete(r.sessions, sessionID)
	wasEmitted := t.emitted
	r.mu.Unlock()

	if wasEmitted {
		r.publish(Event{Kind: SessionRemoved, SessionID: sessionID})
	}
}

func (r *Registry) consumeBatches() {
	for {
		select {
		case b, ok := <-r.queue.out:
			if !ok {
				return
			}
			r.handleEntries(b)
		case <-r.done:
			return
		}
	}
}

// handleEntries applies one batch of records to its session, in a fixed
// pipeline order: metadata, then model-emission gating, usage folding,
// state-machine transitions, message mapping, and finally a tick.
func (r *Registry) handleEntries(b tailer.Batch) {
	r.mu.Lock()
	t, ok := r.sessions[b.SessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	var toPublish []Event

	for _, rec := range b.Records {
		// (1) derived metadata
		applyMetadata(t, rec)

		// (2) emitted gating on first known model
		if rec.Type == record.TypeAssistant && rec.Model != "" && t.model == unknownModel {
			t.model = rec.Model
			if !t.emitted {
				t.emitted = true
				toPublish = append(toPublish, Event{Kind: SessionDiscovered, SessionID: t.sessionID, Session: t.summary()})
			}
		}

		// (3) fold usage
		if rec.Type == record.TypeAssistant && rec.Usage != nil {
			r.foldUsage(t, rec)
			if t.emitted {
				toPublish = append(toPublish, Event{Kind: UsageUpdated, SessionID: t.sessionID, Session: t.summary()})
			}
		}

		// (4) state machine
		prevState := t.sm.State
		if changed := t.sm.ApplyRecord(rec); changed && t.emitted {
			toPublish = append(toPublish, Event{
				Kind: StateChanged, SessionID: t.sessionID, Session: t.summary(),
				PrevState: prevState.String(), CurState: t.sm.State.String(),
			})
		}

		// (5) map messages, append with trim
		msgs := t.mapper.Map(t.sessionID, rec)
		if len(msgs) > 0 {
			t.appendMessages(msgs)
			// (6) publish NewMessage per accepted message, emitted sessions only
			if t.emitted {
				for i := range msgs {
					m := msgs[i]
					toPublish = append(toPublish, Event{Kind: NewMessage, SessionID: t.sessionID, Message: &m})
				}
			}
		}
	}

	// (7) post-batch time-based re-check
	prevTickState := t.sm.State
	if _, changed := t.sm.Tick(nowMs()); changed && t.emitted {
		toPublish = append(toPublish, Event{
			Kind: StateChanged, SessionID: t.sessionID, Session: t.summary(),
			PrevState: prevTickState.String(), CurState: t.sm.State.String(),
		})
	}

	r.mu.Unlock()

	for _, ev := range toPublish {
		r.publish(ev)
	}
}

func applyMetadata(t *tracked, rec record.Record) {
	switch rec.Type {
	case record.TypeUser:
		if rec.Cwd != "" {
			t.workingDirectory = rec.Cwd
		}
		applyGitBranch(t, rec.GitBranch)
		if t.currentTask == "" && rec.UserIsString && rec.UserText != "" {
			t.currentTask = message.CurrentTaskSummary(rec.UserText)
		}
	case record.TypeAssistant:
		applyGitBranch(t, rec.GitBranch)
	}

	if rec.TimestampMs != 0 && t.startedAtMs == 0 {
		t.startedAtMs = rec.TimestampMs
	}
}

func applyGitBranch(t *tracked, branch string) {
	if branch == "" || branch == "HEAD" {
		return
	}
	t.gitBranch = branch
}

func (r *Registry) foldUsage(t *tracked, rec record.Record) {
	u := rec.Usage
	t.usage.InputTokens += u.InputTokens
	t.usage.OutputTokens += u.OutputTokens
	t.usage.CacheReadInputTokens += u.CacheReadInputTokens
	t.usage.CacheCreationInputTokens += u.CacheCreationInputTokens

	model := rec.Model
	if model == "" {
		model = t.model
	}
	t.estimatedCost += r.prices.Calculate(model, cost.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
	})
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func (r *Registry) tickLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.tickAll()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) tickAll() {
	r.mu.Lock()
	var toPublish []Event
	for id, t := range r.sessions {
		prevState := t.sm.State
		if _, changed := t.sm.Tick(nowMs()); changed && t.emitted {
			toPublish = append(toPublish, Event{
				Kind: StateChanged, SessionID: id, Session: t.summary(),
				PrevState: prevState.String(), CurState: t.sm.State.String(),
			})
		}
	}
	r.mu.Unlock()

	for _, ev := range toPublish {
		r.publish(ev)
	}
}

// ListEmitted returns a snapshot of every emitted session's summary.
func (r *Registry) ListEmitted() []*Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Summary, 0, len(r.sessions))
	for _, t := range r.sessions {
		if t.emitted {
			out = append(out, t.summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Detail returns a session's summary and its current message snapshot,
// or nil if unknown or unemitted.
func (r *Registry) Detail(sessionID string) (*Summary, []message.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[sessionID]
	if !ok || !t.emitted {
		return nil, nil
	}
	return t.summary(), t.messageSnapshot()
}

// Messages returns a session's current message snapshot (empty but
// non-nil for an emitted session with no messages yet), or nil if the
// session is unknown or unemitted.
func (r *Registry) Messages(sessionID string) []message.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[sessionID]
	if !ok || !t.emitted {
		return nil
	}
	return t.messageSnapshot()
}

// gitStatusLoop runs the periodic git status probe. It snapshots
// candidate sessions under the lock, then shells out without holding it.
func (r *Registry) gitStatusLoop() {
	interval := r.cfg.GitStatus.ProbeInterval
	if interval <= 0 {
		interval = defaultGitProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.probeGitStatus()
		case <-r.done:
			return
		}
	}
}

type gitProbeCandidate struct {
	sessionID string
	cwd       string
}

func (r *Registry) probeGitStatus() {
	now := nowMs()
	cooldown := r.cfg.GitStatus.Cooldown
	if cooldown <= 0 {
		cooldown = defaultGitCooldown
	}

	r.mu.Lock()
	var candidates []gitProbeCandidate
	for id, t := range r.sessions {
		if !t.emitted {
			continue
		}
		if t.sm.State != statemachine.Idle && t.sm.State != statemachine.PermissionWaiting {
			continue
		}
		if t.workingDirectory == "" {
			continue
		}
		if now-t.lastGitDiffCheckMs < cooldown.Milliseconds() {
			continue
		}
		t.lastGitDiffCheckMs = now
		candidates = append(candidates, gitProbeCandidate{sessionID: id, cwd: t.workingDirectory})
	}
	r.mu.Unlock()

	for _, c := range candidates {
		additions, deletions, ok := runGitShortstat(c.cwd)
		if !ok {
			continue
		}

		r.mu.Lock()
		t, exists := r.sessions[c.sessionID]
		var ev *Event
		if exists && (t.gitAdditions != additions || t.gitDeletions != deletions) {
			t.gitAdditions = additions
			t.gitDeletions = deletions
			if t.emitted {
				e := Event{Kind: GitStatusUpdated, SessionID: c.sessionID, Session: t.summary()}
				ev = &e
			}
		}
		r.mu.Unlock()

		if ev != nil {
			r.publish(*ev)
		}
	}
}

func runGitShortstat(cwd string) (additions, deletions int, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "diff", "--shortstat")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, false
	}
	a, d := parseShortstat(string(out))
	return a, d, true
}

// parseShortstat parses `git diff --shortstat` output, e.g.
// "2 files changed, 10 insertions(+), 3 deletions(-)".
func parseShortstat(s string) (additions, deletions int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0
	}
	for _, seg := range strings.Split(s, ",") {
		seg = strings.TrimSpace(seg)
		fields := strings.Fields(seg)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(seg, "insertion"):
			additions = n
		case strings.Contains(seg, "deletion"):
			deletions = n
		}
	}
	return additions, deletions
}
