package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func exportFixture() *Session {
	sess := makeSession("ex1")
	sess.Name = "Fix flaky tests"
	sess.Branch = "fix/flaky-tests"
	sess.Messages = []*ChatMessage{
		{ID: "m1", Role: "user", Content: "please fix the tests", Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "m2", Role: "assistant", Content: "done, two tests were racy", AgentName: "reviewer",
			Attachments: []Attachment{{ID: "a1", FileName: "diff.patch", Path: "/tmp/diff.patch"}},
			Timestamp:   time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)},
	}
	return sess
}

func TestExportJSONRoundTrip(t *testing.T) {
	sess := exportFixture()
	data, err := sess.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var out Export
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if out.ID != "ex1" || out.Name != "Fix flaky tests" {
		t.Errorf("metadata lost: %+v", out)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out.Messages))
	}
	if out.Messages[0].Content != "please fix the tests" {
		t.Errorf("message content lost: %+v", out.Messages[0])
	}
	if out.Messages[1].AgentName != "reviewer" {
		t.Errorf("agent name lost: %+v", out.Messages[1])
	}
	if len(out.Messages[1].Attachments) != 1 || out.Messages[1].Attachments[0] != "diff.patch" {
		t.Errorf("attachment names lost: %+v", out.Messages[1].Attachments)
	}
}

func TestExportMarkdown(t *testing.T) {
	md := exportFixture().ExportMarkdown()

	for _, want := range []string{
		"# Fix flaky tests",
		"- Repositories: repo-a",
		"- Branch: fix/flaky-tests",
		"## User (2025-03-01 10:00)",
		"## Assistant (reviewer) (2025-03-01 10:05)",
		"please fix the tests",
		"done, two tests were racy",
		"- diff.patch",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown export missing %q\n%s", want, md)
		}
	}
}

func TestExportMarkdownUnnamedSession(t *testing.T) {
	sess := makeSession("anon")
	md := sess.ExportMarkdown()
	if !strings.Contains(md, "# Session anon") {
		t.Errorf("unnamed session should fall back to its id:\n%s", md)
	}
}
