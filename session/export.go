package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Export is the structured subset of a session produced by JSON export.
type Export struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name,omitempty"`
	RepoIDs              []string        `json:"repoIds"`
	Mode                 Mode            `json:"mode"`
	Branch               string          `json:"branch,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	LastActivityAt       time.Time       `json:"lastActivityAt"`
	MergedFromSessionIDs []string        `json:"mergedFromSessionIds,omitempty"`
	Messages             []ExportMessage `json:"messages"`
}

// ExportMessage is one transcript entry in exported form.
type ExportMessage struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	AgentName   string    `json:"agentName,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExportJSON renders the session as indented JSON.
func (s *Session) ExportJSON() ([]byte, error) {
	out := Export{
		ID:                   s.ID,
		Name:                 s.Name,
		RepoIDs:              append([]string(nil), s.RepoIDs...),
		Mode:                 s.Mode,
		Branch:               s.Branch,
		CreatedAt:            s.CreatedAt,
		LastActivityAt:       s.LastActivityAt,
		MergedFromSessionIDs: append([]string(nil), s.MergedFromSessionIDs...),
		Messages:             make([]ExportMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		em := ExportMessage{
			Role:      m.Role,
			Content:   m.Content,
			AgentName: m.AgentName,
			Timestamp: m.Timestamp,
		}
		for _, a := range m.Attachments {
			em.Attachments = append(em.Attachments, a.FileName)
		}
		out.Messages = append(out.Messages, em)
	}
	return json.MarshalIndent(out, "", "  ")
}

// ExportMarkdown renders the session as a human-readable transcript: a
// metadata header block followed by role-labeled message sections.
func (s *Session) ExportMarkdown() string {
	var b strings.Builder

	title := s.Name
	if title == "" {
		title = "Session " + s.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Repositories: %s\n", strings.Join(s.RepoIDs, ", "))
	fmt.Fprintf(&b, "- Mode: %s\n", s.Mode)
	if s.Branch != "" {
		fmt.Fprintf(&b, "- Branch: %s\n", s.Branch)
	}
	fmt.Fprintf(&b, "- Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Last activity: %s\n", s.LastActivityAt.Format(time.RFC3339))
	if len(s.MergedFromSessionIDs) > 0 {
		fmt.Fprintf(&b, "- Merged from: %s\n", strings.Join(s.MergedFromSessionIDs, ", "))
	}
	b.WriteString("\n")

	for _, m := range s.Messages {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
			if m.AgentName != "" {
				label = "Assistant (" + m.AgentName + ")"
			}
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", label, m.Timestamp.Format("2006-01-02 15:04"))
		b.WriteString(m.Content)
		b.WriteString("\n\n")
		if len(m.Attachments) > 0 {
			b.WriteString("Attachments:\n")
			for _, a := range m.Attachments {
				fmt.Fprintf(&b, "- %s\n", a.FileName)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
