package message

import (
	"regexp"
	"strings"
)

// noiseTags are the wrapper tags stripped -- together with their content --
// when extracting the short current_task summary from a session's first
// user turn. Only balanced pairs are removed; a lone or mismatched tag is
// assumed to be the user talking *about* the tag, not real markup, and is
// left in place.
var noiseTags = []string{
	"local-command-caveat",
	"local-command-stdout",
	"command-name",
	"command-message",
	"command-args",
	"system-reminder",
}

var noiseTagPatterns = buildNoiseTagPatterns()

func buildNoiseTagPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(noiseTags))
	for i, tag := range noiseTags {
		patterns[i] = regexp.MustCompile(`(?s)<` + tag + `>.*?</` + tag + `>`)
	}
	return patterns
}

// ScrubSystemMarkup iteratively removes balanced noiseTag pairs (and their
// content) from s. It is idempotent: ScrubSystemMarkup(ScrubSystemMarkup(x))
// == ScrubSystemMarkup(x).
func ScrubSystemMarkup(s string) string {
	for {
		next := s
		for _, pat := range noiseTagPatterns {
			next = pat.ReplaceAllString(next, "")
		}
		if next == s {
			return s
		}
		s = next
	}
}

// CurrentTaskSummary scrubs s and truncates it to a 200-byte preview for
// use as a session's current_task field.
func CurrentTaskSummary(s string) string {
	scrubbed := strings.TrimSpace(ScrubSystemMarkup(s))
	return truncate(scrubbed, 200)
}

// ContainsLocalCommandEcho reports whether s looks like a local-command
// echo rather than a genuine user turn -- the no-transition case of the
// state machine's User-record rule.
func ContainsLocalCommandEcho(s string) bool {
	return strings.Contains(s, "<local-command-stdout>") ||
		strings.Contains(s, "<local-command-caveat>") ||
		strings.Contains(s, "<command-name>")
}

// ContainsExitCommand reports whether s contains the /exit slash-command
// marker that drives the state machine's Stopped transition.
func ContainsExitCommand(s string) bool {
	return strings.Contains(s, "<command-name>/exit</command-name>")
}
