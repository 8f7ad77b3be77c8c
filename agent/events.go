// Package agent spawns the external coding agent CLI for one turn at a
// time and normalizes its line-delimited JSON output into a typed event
// stream.
package agent

// EventType discriminates the normalized event stream.
type EventType string

const (
	// EventText carries an incremental text delta for the assistant reply.
	EventText EventType = "text"
	// EventTool announces the start of a tool invocation.
	EventTool EventType = "tool"
	// EventError is an error reported inside the stream; the run itself
	// continues until the process exits.
	EventError EventType = "error"
	// EventResult is the terminal event of a successful protocol
	// exchange, carrying usage and the agent's own conversation id.
	EventResult EventType = "result"
)

// Event is one normalized protocol event.
type Event struct {
	Type EventType

	// EventText
	Text string

	// EventTool
	ToolName  string
	ToolID    string
	ToolInput map[string]any

	// EventError
	Message string

	// EventResult
	Result *Result
}

// Result is the terminal payload of one invocation.
type Result struct {
	// ConversationID is the id the agent assigned to its own
	// conversation state; passing it back resumes context.
	ConversationID string
	Model          string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	DurationMs     int64
	IsError        bool
	Subtype        string
	Text           string
}

// Outcome resolves an invocation after the process exits.
type Outcome struct {
	Success bool
	Output  string
	Err     error
}
