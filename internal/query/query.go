// Package query implements the synchronous snapshot read surface over
// the registry, including cross-session search.
package query

import (
	"errors"
	"sort"
	"strings"

	"github.com/sessiontrace/backend/internal/message"
	"github.com/sessiontrace/backend/internal/registry"
)

// ErrEmptyQuery is returned by Search when given an empty query string.
var ErrEmptyQuery = errors.New("invalid query")

// Scope names one of the four fields a search may match against.
type Scope string

const (
	ScopeProjectName      Scope = "project_name"
	ScopeCurrentTask      Scope = "current_task"
	ScopeWorkingDirectory Scope = "working_directory"
	ScopeContent          Scope = "content"
)

// AllScopes is the default scope set when a query names none explicitly.
var AllScopes = []Scope{ScopeProjectName, ScopeCurrentTask, ScopeWorkingDirectory, ScopeContent}

const snippetWindow = 40

// Match is one matched location within a session.
type Match struct {
	Scope   Scope  `json:"scope"`
	Snippet string `json:"snippet"`
}

// SessionSearchResult is one session's search hits.
type SessionSearchResult struct {
	Session    *registry.Summary `json:"session"`
	MatchCount int               `json:"matchCount"`
	Matches    []Match           `json:"matches"`
}

// SearchResponse is the outer response wrapper.
type SearchResponse struct {
	Query         string                `json:"query"`
	TotalSessions int                   `json:"totalSessions"`
	Results       []SessionSearchResult `json:"results"`
}

// DetailResponse is get_session_detail's wire shape: the summary fields
// inline plus the message snapshot.
type DetailResponse struct {
	*registry.Summary
	Messages []message.Message `json:"messages"`
}

// Surface answers the four read-only query operations over a Registry.
type Surface struct {
	reg *registry.Registry
}

// New returns a Surface backed by reg.
func New(reg *registry.Registry) *Surface {
	return &Surface{reg: reg}
}

// ListEmittedSessions returns every emitted session's summary.
func (s *Surface) ListEmittedSessions() []*registry.Summary {
	return s.reg.ListEmitted()
}

// SessionDetail returns a session's summary and messages, or nil, nil if
// unknown.
func (s *Surface) SessionDetail(sessionID string) (*registry.Summary, []message.Message) {
	return s.reg.Detail(sessionID)
}

// SessionMessages returns a session's current message snapshot.
func (s *Surface) SessionMessages(sessionID string) []message.Message {
	return s.reg.Messages(sessionID)
}

// Search matches query against the given scopes across every emitted
// session. An empty scopes slice defaults to AllScopes. An empty query
// string is an input error.
func (s *Surface) Search(query string, scopes []Scope) (SearchResponse, error) {
	if query == "" {
		return SearchResponse{}, ErrEmptyQuery
	}

	// Unknown scope names are dropped; an empty or entirely unrecognized
	// scope set falls back to all four.
	want := make(map[Scope]bool, len(scopes))
	for _, sc := range scopes {
		switch sc {
		case ScopeProjectName, ScopeCurrentTask, ScopeWorkingDirectory, ScopeContent:
			want[sc] = true
		}
	}
	if len(want) == 0 {
		for _, sc := range AllScopes {
			want[sc] = true
		}
	}

	queryLower := strings.ToLower(query)
	var results []SessionSearchResult

	// match_count is the number of match entries before truncation: one
	// per matched session field, plus one per matching message.
	for _, sess := range s.reg.ListEmitted() {
		var matches []Match

		if want[ScopeProjectName] && containsFold(sess.ProjectName, queryLower) {
			matches = append(matches, Match{Scope: ScopeProjectName, Snippet: sess.ProjectName})
		}
		if want[ScopeCurrentTask] && containsFold(sess.CurrentTask, queryLower) {
			matches = append(matches, Match{Scope: ScopeCurrentTask, Snippet: snippetAround(sess.CurrentTask, queryLower)})
		}
		if want[ScopeWorkingDirectory] {
			switch {
			case containsFold(sess.WorkingDirectory, queryLower):
				matches = append(matches, Match{Scope: ScopeWorkingDirectory, Snippet: snippetAround(sess.WorkingDirectory, queryLower)})
			case containsFold(sess.ProjectPath, queryLower):
				matches = append(matches, Match{Scope: ScopeWorkingDirectory, Snippet: snippetAround(sess.ProjectPath, queryLower)})
			}
		}
		if want[ScopeContent] {
			for _, m := range s.reg.Messages(sess.SessionID) {
				if containsFold(m.Content, queryLower) {
					matches = append(matches, Match{Scope: ScopeContent, Snippet: snippetAround(m.Content, queryLower)})
				}
			}
		}

		if len(matches) == 0 {
			continue
		}
		total := len(matches)
		if len(matches) > 3 {
			matches = matches[:3]
		}
		results = append(results, SessionSearchResult{Session: sess, MatchCount: total, Matches: matches})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchCount > results[j].MatchCount
	})

	return SearchResponse{Query: query, TotalSessions: len(results), Results: results}, nil
}

func containsFold(haystack, needleLower string) bool {
	return needleLower != "" && strings.Contains(strings.ToLower(haystack), needleLower)
}

// snippetAround returns the text from 40 bytes before to 40 bytes after
// the first match, with both ends moved back to UTF-8 rune boundaries and
// "..." added on any cut side; empty when there is no match.
func snippetAround(haystack, needleLower string) string {
	pos := strings.Index(strings.ToLower(haystack), needleLower)
	if pos < 0 {
		return ""
	}

	start := clampToRuneBoundary(haystack, pos-snippetWindow)
	end := clampToRuneBoundary(haystack, pos+len(needleLower)+snippetWindow)

	snippet := haystack[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(haystack) {
		snippet = snippet + "..."
	}
	return snippet
}

func clampToRuneBoundary(s string, i int) int {
	if i < 0 {
		i = 0
	}
	if i > len(s) {
		i = len(s)
	}
	for i > 0 && i < len(s) && !isRuneStart(s[i]) {
		i--
	}
	return i
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
