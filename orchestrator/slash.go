package orchestrator

import (
	"fmt"
	"strings"

	"github.com/conductor-dev/conductor/session"
)

// Slash commands are handled locally: single-shot, synchronous, and
// never a state transition. The agent process is not involved.

const slashHelp = `Available commands:
/help               show this help
/sessions           list all sessions
/status             show this session's status
/mode plan|direct   switch between plan and direct mode
/clear              clear this session's messages
/resume             show the resumable agent conversation id
/new                drop the agent conversation id and start fresh
/skill <name> [input]  run a named skill`

// trySlashCommand intercepts slash-style input. Returns whether it was
// handled and the synchronous reply text.
func (o *Orchestrator) trySlashCommand(sess *session.Session, content string) (bool, string) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return false, ""
	}

	cmd, rest, _ := strings.Cut(strings.TrimPrefix(trimmed, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help":
		return true, slashHelp

	case "sessions", "list":
		return true, o.renderSessionList()

	case "status":
		return true, renderStatus(sess)

	case "mode":
		return true, o.slashMode(sess.ID, rest)

	case "clear":
		o.ClearMessages(sess.ID)
		return true, "Messages cleared."

	case "resume", "conversations":
		if sess.ExternalConversationID == "" {
			return true, "No resumable agent conversation; the next message starts fresh."
		}
		return true, fmt.Sprintf("Resuming agent conversation %s on the next message.", sess.ExternalConversationID)

	case "new", "fresh":
		o.update(sess.ID, func(s *session.Session) error {
			s.ExternalConversationID = ""
			return nil
		})
		return true, "Agent conversation reset; the next message starts fresh."

	case "skill", "run":
		name, input, _ := strings.Cut(rest, " ")
		if name == "" {
			return true, "Usage: /skill <name> [input]"
		}
		return true, o.runSkill(sess.ID, name, strings.TrimSpace(input))
	}

	return true, fmt.Sprintf("Unknown command %q. Try /help.", "/"+cmd)
}

func (o *Orchestrator) renderSessionList() string {
	summaries := o.store.List()
	if len(summaries) == 0 {
		return "No sessions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s):\n", len(summaries))
	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = s.ID[:8]
		}
		marker := ""
		if s.IsBookmarked {
			marker = " *"
		}
		fmt.Fprintf(&b, "- %s [%s] %s (%d messages)%s\n",
			name, s.Status, strings.Join(s.RepoIDs, ","), s.MessageCount, marker)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStatus(sess *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", sess.ID)
	fmt.Fprintf(&b, "- status: %s\n", sess.Status)
	fmt.Fprintf(&b, "- mode: %s\n", sess.Mode)
	fmt.Fprintf(&b, "- repos: %s\n", strings.Join(sess.RepoIDs, ", "))
	if sess.WorktreeMode {
		fmt.Fprintf(&b, "- worktree: %s (branch %s)\n", sess.WorktreePath, sess.Branch)
	}
	fmt.Fprintf(&b, "- messages: %d, queued: %d", len(sess.Messages), len(sess.MessageQueue))
	return b.String()
}

func (o *Orchestrator) slashMode(sessionID, arg string) string {
	switch session.Mode(strings.ToLower(arg)) {
	case session.ModePlan, session.ModeDirect:
		if err := o.SetMode(sessionID, session.Mode(strings.ToLower(arg))); err != nil {
			return fmt.Sprintf("Could not switch mode: %s", err)
		}
		return fmt.Sprintf("Mode set to %s.", strings.ToLower(arg))
	default:
		return "Usage: /mode plan|direct"
	}
}

// runSkill hands off to the external skill engine. The engine is an
// opaque async collaborator; from the session's point of view the
// invocation is fire-and-report.
func (o *Orchestrator) runSkill(sessionID, name, input string) string {
	if o.skills == nil {
		return fmt.Sprintf("No skill engine configured; cannot run %q.", name)
	}
	go func() {
		output, err := o.skills.Run(sessionID, name, input)
		reply := output
		if err != nil {
			reply = fmt.Sprintf("Skill %q failed: %s", name, err)
		}
		o.appendLocalExchange(sessionID, "", reply)
	}()
	return fmt.Sprintf("Running skill %q...", name)
}
