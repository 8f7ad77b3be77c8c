package session

import (
	"encoding/json"
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// Mode controls whether the agent must propose a plan before executing.
type Mode string

const (
	ModePlan   Mode = "plan"
	ModeDirect Mode = "direct"
)

// Ownership records whether a session created its worktree and is
// responsible for deleting it. Records written before this field existed
// persist as OwnershipUnknown; destructive cleanup acts only on an
// explicit OwnershipOwned.
type Ownership string

const (
	OwnershipOwned    Ownership = "owned"
	OwnershipBorrowed Ownership = "borrowed"
	OwnershipUnknown  Ownership = ""
)

// UnmarshalJSON accepts the current string form plus the legacy boolean
// form (true -> owned, false -> borrowed) and null/absent (-> unknown).
func (o *Ownership) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*o = OwnershipUnknown
		return nil
	case "true":
		*o = OwnershipOwned
		return nil
	case "false":
		*o = OwnershipBorrowed
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Ownership(s) {
	case OwnershipOwned, OwnershipBorrowed, OwnershipUnknown:
		*o = Ownership(s)
	default:
		*o = OwnershipUnknown
	}
	return nil
}

// Attachment is a file attached to a chat message, stored under the
// attachments directory and referenced by path.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Path     string `json:"path"`
}

// ChatMessage is one entry in a session transcript. While an agent turn
// streams, the newest assistant message is mutated in place.
type ChatMessage struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"` // "user" or "assistant"
	Content     string       `json:"content"`
	IsStreaming bool         `json:"isStreaming,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	AgentID     string       `json:"agentId,omitempty"`
	AgentName   string       `json:"agentName,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// QueuedMessage is a message submitted while the session was busy.
// Mode is snapshotted at enqueue time so a later mode switch does not
// change what the user asked for.
type QueuedMessage struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mode        Mode         `json:"mode"`
	AgentID     string       `json:"agentId,omitempty"`
	QueuedAt    time.Time    `json:"queuedAt"`
}

// FileChange records a file the agent created or modified during a run.
// Changes are deduplicated per run: a later change to the same path
// replaces the earlier record.
type FileChange struct {
	ID             string `json:"id"`
	FilePath       string `json:"filePath"`
	FileName       string `json:"fileName"`
	Operation      string `json:"operation"` // "created" or "modified"
	ToolActivityID string `json:"toolActivityId,omitempty"`
}

// Session is the unit of conversation and agent binding.
type Session struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	RepoIDs []string `json:"repoIds"`

	// Legacy single-repo records carry repoId instead of repoIds;
	// LoadAll upcasts it.
	LegacyRepoID string `json:"repoId,omitempty"`

	Status Status `json:"status"`
	Mode   Mode   `json:"mode"`

	Messages     []*ChatMessage   `json:"messages"`
	MessageQueue []*QueuedMessage `json:"messageQueue,omitempty"`

	// ExternalConversationID is the id the agent assigned to its own
	// conversation state, used to resume context. Cleared when
	// resumption fails or the context overflows.
	ExternalConversationID string `json:"externalConversationId,omitempty"`

	WorktreeMode bool      `json:"worktreeMode,omitempty"`
	WorktreePath string    `json:"worktreePath,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	BaseBranch   string    `json:"baseBranch,omitempty"`
	Ownership    Ownership `json:"ownsWorktree,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	IsBookmarked   bool       `json:"isBookmarked,omitempty"`
	BookmarkedAt   *time.Time `json:"bookmarkedAt,omitempty"`

	MergedFromSessionIDs []string `json:"mergedFromSessionIds,omitempty"`
}

// IsMultiRepo reports whether the session spans more than one repository.
func (s *Session) IsMultiRepo() bool {
	return len(s.RepoIDs) > 1
}

// PrimaryRepo returns the first repository id.
func (s *Session) PrimaryRepo() string {
	if len(s.RepoIDs) == 0 {
		return ""
	}
	return s.RepoIDs[0]
}

// HasRepo reports whether the session is bound to the given repository.
func (s *Session) HasRepo(repoID string) bool {
	for _, id := range s.RepoIDs {
		if id == repoID {
			return true
		}
	}
	return false
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// LastMessage returns the newest message, or nil on an empty transcript.
func (s *Session) LastMessage() *ChatMessage {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// StreamingMessage returns the newest message if it is an assistant
// message still streaming.
func (s *Session) StreamingMessage() *ChatMessage {
	m := s.LastMessage()
	if m != nil && m.Role == "assistant" && m.IsStreaming {
		return m
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	cp := *s
	cp.RepoIDs = append([]string(nil), s.RepoIDs...)
	cp.MergedFromSessionIDs = append([]string(nil), s.MergedFromSessionIDs...)
	if s.BookmarkedAt != nil {
		t := *s.BookmarkedAt
		cp.BookmarkedAt = &t
	}
	cp.Messages = make([]*ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		mc := *m
		mc.Attachments = append([]Attachment(nil), m.Attachments...)
		cp.Messages[i] = &mc
	}
	cp.MessageQueue = make([]*QueuedMessage, len(s.MessageQueue))
	for i, q := range s.MessageQueue {
		qc := *q
		qc.Attachments = append([]Attachment(nil), q.Attachments...)
		cp.MessageQueue[i] = &qc
	}
	return &cp
}

// Summary is the listing form of a session, without the transcript.
type Summary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	RepoIDs        []string  `json:"repoIds"`
	Status         Status    `json:"status"`
	Mode           Mode      `json:"mode"`
	MessageCount   int       `json:"messageCount"`
	QueueLength    int       `json:"queueLength"`
	WorktreeMode   bool      `json:"worktreeMode,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	IsBookmarked   bool      `json:"isBookmarked,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Summarize builds the listing form.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:             s.ID,
		Name:           s.Name,
		RepoIDs:        append([]string(nil), s.RepoIDs...),
		Status:         s.Status,
		Mode:           s.Mode,
		MessageCount:   len(s.Messages),
		QueueLength:    len(s.MessageQueue),
		WorktreeMode:   s.WorktreeMode,
		Branch:         s.Branch,
		IsBookmarked:   s.IsBookmarked,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}
