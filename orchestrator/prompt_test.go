package orchestrator

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/conductor-dev/conductor/config"
	"github.com/conductor-dev/conductor/session"
)

func baseSession() *session.Session {
	now := time.Now()
	return &session.Session{
		ID:             "p1",
		RepoIDs:        []string{"repo-a"},
		Status:         session.StatusIdle,
		Mode:           session.ModeDirect,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestComposePromptOrdering(t *testing.T) {
	fx := newFixture(t, nil)
	sess := baseSession()
	sess.RepoIDs = []string{"repo-a", "repo-b"}
	sess.WorktreeMode = true
	sess.WorktreePath = "/trees/p1"
	sess.Branch = "feat"
	sess.Messages = []*session.ChatMessage{
		{ID: "m1", Role: "user", Content: "earlier question"},
	}

	prompt := fx.orch.composePrompt(sess, "the actual request",
		[]session.Attachment{{FileName: "log.txt", Path: "/att/log.txt"}},
		map[string]string{"repo-a": "/src/a", "repo-b": "/src/b"})

	idx := func(sub string) int {
		i := strings.Index(prompt, sub)
		if i < 0 {
			t.Fatalf("prompt missing %q:\n%s", sub, prompt)
		}
		return i
	}

	preamble := idx("session coordinator")
	multi := idx("spans multiple repositories")
	primary := idx("repo-a (primary) at /src/a")
	tree := idx("isolated git worktree at /trees/p1")
	attach := idx("log.txt")
	prior := idx("Recent conversation context")
	content := idx("the actual request")

	for name, pair := range map[string][2]int{
		"preamble before multi-repo": {preamble, multi},
		"multi-repo before worktree": {multi, tree},
		"worktree before attachment": {tree, attach},
		"attachment before context":  {attach, prior},
		"context before content":     {prior, content},
	} {
		if pair[0] >= pair[1] {
			t.Errorf("ordering violated: %s", name)
		}
	}
	_ = primary
}

func TestComposePromptSkipsContextWhenResuming(t *testing.T) {
	fx := newFixture(t, nil)
	sess := baseSession()
	sess.ExternalConversationID = "conv-live"
	sess.Messages = []*session.ChatMessage{
		{ID: "m1", Role: "user", Content: "earlier question"},
	}

	prompt := fx.orch.composePrompt(sess, "next step", nil, map[string]string{"repo-a": "/src/a"})
	if strings.Contains(prompt, "Recent conversation context") {
		t.Error("resumed turns must not repeat prior context")
	}
}

func TestComposePromptTruncation(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) {
		cfg.MaxPromptChars = 100
	})
	sess := baseSession()

	long := strings.Repeat("z", 500)
	prompt := fx.orch.composePrompt(sess, long, nil, map[string]string{"repo-a": "/src/a"})

	if !strings.Contains(prompt, truncationMarker) {
		t.Error("oversized content must carry the truncation marker")
	}
	if strings.Contains(prompt, strings.Repeat("z", 101)) {
		t.Error("content must actually be truncated")
	}
}

func TestComposePromptPlanWrapper(t *testing.T) {
	fx := newFixture(t, nil)
	sess := baseSession()
	sess.Mode = session.ModePlan

	prompt := fx.orch.composePrompt(sess, "do something", nil, map[string]string{"repo-a": "/src/a"})
	if !strings.HasPrefix(prompt, "Before doing anything") {
		t.Error("plan mode must wrap the whole prompt")
	}
	if !strings.Contains(prompt, "session coordinator") {
		t.Error("safety preamble must survive the plan wrapper")
	}
}

func TestPriorTurnContextWindow(t *testing.T) {
	sess := baseSession()
	for i := 0; i < 10; i++ {
		sess.Messages = append(sess.Messages, &session.ChatMessage{
			ID: fmt.Sprintf("id%d", i), Role: "user", Content: fmt.Sprintf("m%d", i),
		})
	}

	ctx := priorTurnContext(sess, 3)
	if strings.Contains(ctx, "m0") {
		t.Error("messages outside the window must be excluded")
	}
	for _, want := range []string{"m7", "m8", "m9"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("window should include %s", want)
		}
	}

	if priorTurnContext(sess, 0) != "" {
		t.Error("zero window should produce no context")
	}
}
