package orchestrator

import (
	"fmt"
	"strings"

	"github.com/conductor-dev/conductor/session"
)

const (
	// contextMessageCap truncates each prior-turn message included in
	// the composed prompt.
	contextMessageCap = 2000

	truncationMarker = "\n[...content truncated...]"
)

// safetyPreamble is always the outermost section of a composed prompt.
// The agent works inside the same machine that hosts this coordinator,
// so it must not take the coordinator down.
const safetyPreamble = "Important: you are running under a session coordinator. " +
	"Never terminate, restart or kill the process that launched you, its parent, " +
	"or any server process belonging to the coordinator, and never modify its data directory."

// planModeWrapper wraps the whole prompt when the session is in plan
// mode.
const planModeWrapper = "Before doing anything, produce a concise plan for the request below " +
	"and a list of structured clarifying questions if anything is ambiguous. " +
	"Do not execute the plan and do not modify any files; respond with the plan only.\n\n"

// composePrompt builds the outbound prompt, outer sections first:
// safety preamble, multi-repo context, worktree context, attachment
// manifest, prior-turn context (only when not resuming), then the user
// content with a truncation marker past the size ceiling.
func (o *Orchestrator) composePrompt(sess *session.Session, content string, attachments []session.Attachment, repoPaths map[string]string) string {
	var b strings.Builder

	b.WriteString(safetyPreamble)
	b.WriteString("\n\n")

	if sess.IsMultiRepo() {
		b.WriteString("This session spans multiple repositories:\n")
		for i, id := range sess.RepoIDs {
			marker := ""
			if i == 0 {
				marker = " (primary)"
			}
			fmt.Fprintf(&b, "- %s%s at %s\n", id, marker, repoPaths[id])
		}
		b.WriteString("Prefix ambiguous file references with the repository name.\n\n")
	}

	if sess.WorktreeMode {
		fmt.Fprintf(&b, "You are working in an isolated git worktree at %s on branch %q", sess.WorktreePath, sess.Branch)
		if sess.BaseBranch != "" {
			fmt.Fprintf(&b, " (based on %q)", sess.BaseBranch)
		}
		b.WriteString(". Stay on this branch.\n\n")
	}

	if len(attachments) > 0 {
		b.WriteString("The user attached these files:\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", a.FileName, a.Path)
		}
		b.WriteString("\n")
	}

	// Resumption already carries the agent's own history
	if sess.ExternalConversationID == "" {
		if ctx := priorTurnContext(sess, o.cfg.ContextMessages); ctx != "" {
			b.WriteString(ctx)
			b.WriteString("\n")
		}
	}

	b.WriteString(truncateWithMarker(content, o.cfg.MaxPromptChars))

	prompt := b.String()
	if sess.Mode == session.ModePlan {
		prompt = planModeWrapper + prompt
	}
	return prompt
}

// priorTurnContext renders the last few completed messages so a fresh
// agent process has some footing. Capped per message and in count to
// keep prompt growth bounded.
func priorTurnContext(sess *session.Session, maxMessages int) string {
	if maxMessages <= 0 || len(sess.Messages) == 0 {
		return ""
	}

	start := len(sess.Messages) - maxMessages
	if start < 0 {
		start = 0
	}
	window := sess.Messages[start:]
	if len(window) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent conversation context:\n")
	for _, m := range window {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncateWithMarker(m.Content, contextMessageCap))
	}
	return b.String()
}

func truncateWithMarker(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + truncationMarker
}
