// Package discovery scans the log root for per-session JSONL files and
// surfaces Found/Removed events. It does not parse file contents --
// that is the Tailer's and Record Parser's job.
package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultScanInterval is how often the log root is rescanned after
	// the initial scan.
	DefaultScanInterval = 5 * time.Second
	// defaultStaleAfter is the age past which a .jsonl file is ignored,
	// so that long-dead sessions from months ago don't resurrect on
	// restart.
	defaultStaleAfter = 24 * time.Hour
)

// Session is one discovered session file.
type Session struct {
	SessionID   string
	LogFile     string
	ProjectPath string
	ProjectName string
}

// Event is a discovery change. Exactly one of Found/RemovedID is set.
type Event struct {
	Found     *Session
	RemovedID string
}

// Scanner tracks previously seen session ids across scans so it can emit
// Removed events when a file disappears.
type Scanner struct {
	root       string
	staleAfter time.Duration
	seen       map[string]struct{}
}

// New returns a Scanner rooted at root (the sole configuration point,
// conventionally "<home>/.claude/projects"). A non-positive staleAfter
// takes the default 24h window.
func New(root string, staleAfter time.Duration) *Scanner {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Scanner{root: root, staleAfter: staleAfter, seen: map[string]struct{}{}}
}

// Scan performs one pass over root's immediate subdirectories and returns
// the Found/Removed events relative to the previous scan, in a stable
// order: all Found events sorted by session id, then all Removed events
// sorted by session id.
func (s *Scanner) Scan() []Event {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}

	current := map[string]Session{}
	var dirNames []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirNames = append(dirNames, e.Name())
	}
	sort.Strings(dirNames)

	for _, name := range dirNames {
		projectPath := decodeProjectPath(name)
		projectName := lastSegment(projectPath)
		dir := filepath.Join(s.root, name)
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var fileNames []string
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			fileNames = append(fileNames, f.Name())
		}
		sort.Strings(fileNames)

		for _, fname := range fileNames {
			full := filepath.Join(dir, fname)
			info, err := os.Stat(full)
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > s.staleAfter {
				continue
			}
			sessionID := strings.TrimSuffix(fname, ".jsonl")
			current[sessionID] = Session{
				SessionID:   sessionID,
				LogFile:     full,
				ProjectPath: projectPath,
				ProjectName: projectName,
			}
		}
	}

	var events []Event
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := s.seen[id]; !ok {
			sess := current[id]
			events = append(events, Event{Found: &sess})
		}
	}

	removedIDs := make([]string, 0)
	for id := range s.seen {
		if _, ok := current[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(removedIDs)
	for _, id := range removedIDs {
		events = append(events, Event{RemovedID: id})
	}

	next := make(map[string]struct{}, len(current))
	for id := range current {
		next[id] = struct{}{}
	}
	s.seen = next

	return events
}

// decodeProjectPath reverses the project-directory-name encoding: a
// leading "-" becomes the root "/", and every remaining "-" becomes a
// path separator.
func decodeProjectPath(name string) string {
	if strings.HasPrefix(name, "-") {
		return "/" + strings.ReplaceAll(name[1:], "-", "/")
	}
	return strings.ReplaceAll(name, "-", "/")
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
