package registry

import (
	"testing"

	"github.com/sessiontrace/backend/internal/message"
)

func TestParseShortstat(t *testing.T) {
	// S8
	cases := []struct {
		in           string
		wantA, wantD int
	}{
		{" 3 files changed, 42 insertions(+), 10 deletions(-)", 42, 10},
		{" 2 files changed, 3 deletions(-)", 0, 3},
		{"", 0, 0},
	}
	for _, c := range cases {
		a, d := parseShortstat(c.in)
		if a != c.wantA || d != c.wantD {
			t.Errorf("parseShortstat(%q) = (%d,%d), want (%d,%d)", c.in, a, d, c.wantA, c.wantD)
		}
	}
}

func TestApplyGitBranchIgnoresEmptyAndHEAD(t *testing.T) {
	r := New(nil, make(chan Event, 1))
	tr := r.newTracked("s1", "/p", "/p/s1.jsonl", "/p", "p")
	applyGitBranch(tr, "")
	if tr.gitBranch != "" {
		t.Fatalf("expected empty branch ignored, got %q", tr.gitBranch)
	}
	applyGitBranch(tr, "HEAD")
	if tr.gitBranch != "" {
		t.Fatalf("expected HEAD ignored, got %q", tr.gitBranch)
	}
	applyGitBranch(tr, "main")
	if tr.gitBranch != "main" {
		t.Fatalf("expected branch set, got %q", tr.gitBranch)
	}
}

func TestAppendMessagesTrimsToFourHundred(t *testing.T) {
	r := New(nil, make(chan Event, 1))
	tr := r.newTracked("s1", "/p", "/p/s1.jsonl", "/p", "p")
	for i := 0; i < 10; i++ {
		batch := make([]message.Message, 60)
		tr.appendMessages(batch)
	}
	if len(tr.messages) != trimBulkTo {
		t.Fatalf("expected trimmed to %d, got %d", trimBulkTo, len(tr.messages))
	}
}
