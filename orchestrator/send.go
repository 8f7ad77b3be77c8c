package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-dev/conductor/agent"
	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/session"
	"github.com/conductor-dev/conductor/usage"
)

// SendResult tells the caller what happened to a submitted message.
type SendResult struct {
	// Queued is true when the message was enqueued instead of started,
	// because the session was busy or the process quota was saturated.
	Queued bool `json:"queued"`
	// Handled is true when a slash command was answered locally
	// without an agent turn.
	Handled bool `json:"handled"`
}

// SendMessage submits user content to a session. Saturation queues
// rather than rejects: a user message is never dropped because the
// system happens to be busy.
func (o *Orchestrator) SendMessage(sessionID, content string, attachments []session.Attachment, agentID string) (SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return SendResult{}, validationf("message content is required")
	}

	// Admission is serialized so two rapid sends cannot both observe
	// an idle session
	o.mu.Lock()
	sess, ok := o.store.Get(sessionID)
	if !ok {
		o.mu.Unlock()
		return SendResult{}, ErrSessionNotFound
	}

	busy := sess.Status == session.StatusRunning
	saturated := o.store.CountRunning() >= o.cfg.MaxActiveProcesses

	if busy || saturated {
		o.mu.Unlock()
		if err := o.enqueue(sessionID, content, attachments, agentID); err != nil {
			return SendResult{}, err
		}
		return SendResult{Queued: true}, nil
	}

	if handled, reply := o.trySlashCommand(sess, content); handled {
		o.mu.Unlock()
		o.appendLocalExchange(sessionID, content, reply)
		return SendResult{Handled: true}, nil
	}

	// Claim the running slot before releasing admission
	err := o.update(sessionID, func(s *session.Session) error {
		s.Status = session.StatusRunning
		s.Touch()
		return nil
	})
	o.mu.Unlock()
	if err != nil {
		return SendResult{}, err
	}

	o.startTurn(sessionID, content, attachments, agentID, sess.Mode)
	return SendResult{}, nil
}

// enqueue appends to the bounded per-session queue. The bound rejects,
// never silently drops.
func (o *Orchestrator) enqueue(sessionID, content string, attachments []session.Attachment, agentID string) error {
	var queued *session.QueuedMessage
	err := o.update(sessionID, func(s *session.Session) error {
		if len(s.MessageQueue) >= o.cfg.MaxQueuedMessages {
			return ErrQueueFull
		}
		queued = &session.QueuedMessage{
			ID:          uuid.New().String(),
			Content:     content,
			Attachments: attachments,
			Mode:        s.Mode,
			AgentID:     agentID,
			QueuedAt:    time.Now(),
		}
		s.MessageQueue = append(s.MessageQueue, queued)
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().Str("session_id", sessionID).Str("message_id", queued.ID).Msg("message queued")
	o.notifyQueue(sessionID)
	return nil
}

// appendLocalExchange records a slash command and its synchronous reply
// without any state transition.
func (o *Orchestrator) appendLocalExchange(sessionID, content, reply string) {
	o.update(sessionID, func(s *session.Session) error {
		now := time.Now()
		if content != "" {
			s.Messages = append(s.Messages, &session.ChatMessage{
				ID:        uuid.New().String(),
				Role:      "user",
				Content:   content,
				Timestamp: now,
			})
		}
		s.Messages = append(s.Messages, &session.ChatMessage{
			ID:        uuid.New().String(),
			Role:      "assistant",
			Content:   reply,
			Timestamp: now,
		})
		s.Touch()
		return nil
	})
	o.notify(sessionID, notifications.EventMessage, nil)
}

// startTurn appends the user message plus the streaming placeholder,
// spawns the agent and hands the event stream to a worker goroutine.
// The session must already be marked running.
func (o *Orchestrator) startTurn(sessionID, content string, attachments []session.Attachment, agentID string, mode session.Mode) {
	userMsg := &session.ChatMessage{
		ID:          uuid.New().String(),
		Role:        "user",
		Content:     content,
		Attachments: attachments,
		AgentID:     agentID,
		Timestamp:   time.Now(),
	}
	// The assistant reply exists before the first byte of output and
	// is mutated in place as events arrive
	placeholder := &session.ChatMessage{
		ID:          uuid.New().String(),
		Role:        "assistant",
		IsStreaming: true,
		AgentID:     agentID,
		Timestamp:   time.Now(),
	}

	// The prompt's prior-turn context must cover earlier turns only, so
	// the snapshot is taken before this turn's messages are appended
	snapshot, ok := o.store.Get(sessionID)
	if !ok {
		log.Error().Str("session_id", sessionID).Msg("session vanished before turn start")
		return
	}
	err := o.update(sessionID, func(s *session.Session) error {
		s.Messages = append(s.Messages, userMsg, placeholder)
		s.Touch()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to start turn")
		return
	}

	o.notify(sessionID, notifications.EventMessage, userMsg)
	o.notify(sessionID, notifications.EventStatus, map[string]any{"status": session.StatusRunning})

	// mode was snapshotted when the message was submitted; a later
	// setMode must not rewrite what the user asked for
	snapshot.Mode = mode

	repoPaths := o.repos.Paths()
	prompt := o.composePrompt(snapshot, content, attachments, repoPaths)

	workingDir := snapshot.WorktreePath
	if workingDir == "" {
		workingDir = repoPaths[snapshot.PrimaryRepo()]
	}

	run := o.runner.Start(agent.InvokeOptions{
		WorkingDir: workingDir,
		Prompt:     prompt,
		ResumeID:   snapshot.ExternalConversationID,
		AgentID:    agentID,
	})

	lr := &liveRun{run: run}
	o.mu.Lock()
	o.active[sessionID] = lr
	o.mu.Unlock()

	o.wg.Add(1)
	go o.superviseTurn(sessionID, placeholder.ID, lr)
}

// turnState accumulates per-turn bookkeeping while events stream in.
type turnState struct {
	openToolID   string
	openToolName string
	toolUses     int
	fileChanges  map[string]*session.FileChange
	result       *agent.Result
	streamErrors []string
}

// superviseTurn consumes one invocation's events, then runs the
// completion path. A panic anywhere in here moves the session to the
// error state instead of crashing the coordinator.
func (o *Orchestrator) superviseTurn(sessionID, messageID string, lr *liveRun) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("session_id", sessionID).Msg("agent turn panicked")
			_, wasCurrent := o.clearActive(sessionID, lr)
			o.update(sessionID, func(s *session.Session) error {
				for _, m := range s.Messages {
					if m.ID == messageID {
						m.IsStreaming = false
						break
					}
				}
				if wasCurrent {
					s.Status = session.StatusError
				}
				return nil
			})
			if wasCurrent {
				o.notify(sessionID, notifications.EventStatus, map[string]any{"status": session.StatusError})
			}
		}
	}()

	st := &turnState{fileChanges: make(map[string]*session.FileChange)}

	for ev := range lr.run.Events() {
		switch ev.Type {
		case agent.EventText:
			o.onText(sessionID, messageID, st, ev.Text)
		case agent.EventTool:
			o.onTool(sessionID, st, ev)
		case agent.EventError:
			o.onStreamError(sessionID, st, ev.Message)
		case agent.EventResult:
			o.onResult(sessionID, st, ev.Result)
		}
	}

	outcome := lr.run.Wait()
	o.finishTurn(sessionID, messageID, st, outcome, lr)
}

func (o *Orchestrator) onText(sessionID, messageID string, st *turnState, delta string) {
	o.closeOpenTool(sessionID, st, "")

	o.update(sessionID, func(s *session.Session) error {
		for _, m := range s.Messages {
			if m.ID == messageID {
				m.Content += delta
				break
			}
		}
		return nil
	})
	o.notify(sessionID, notifications.EventChunk, map[string]any{
		"messageId": messageID,
		"delta":     delta,
	})
}

func (o *Orchestrator) onTool(sessionID string, st *turnState, ev agent.Event) {
	o.closeOpenTool(sessionID, st, "")

	id := ev.ToolID
	if id == "" {
		id = uuid.New().String()
	}
	st.openToolID = id
	st.openToolName = ev.ToolName
	st.toolUses++

	o.notify(sessionID, notifications.EventToolStart, map[string]any{
		"toolActivityId": id,
		"tool":           ev.ToolName,
		"target":         agent.ToolTarget(ev.ToolName, ev.ToolInput),
	})

	// File changes are pushed immediately, not batched, and a later
	// change to the same path replaces the earlier record
	if op, ok := agent.MutatingTools[ev.ToolName]; ok {
		if path := agent.ToolFilePath(ev.ToolName, ev.ToolInput); path != "" {
			change, seen := st.fileChanges[path]
			if !seen {
				change = &session.FileChange{
					ID:       uuid.New().String(),
					FilePath: path,
					FileName: filepath.Base(path),
				}
				st.fileChanges[path] = change
			}
			change.Operation = op
			change.ToolActivityID = id
			o.notify(sessionID, notifications.EventFileChange, change)
		}
	}
}

// closeOpenTool emits the terminal activity event for a tool still
// open, as completed or, with a non-empty errMsg, as failed.
func (o *Orchestrator) closeOpenTool(sessionID string, st *turnState, errMsg string) {
	if st.openToolID == "" {
		return
	}
	if errMsg == "" {
		o.notify(sessionID, notifications.EventToolComplete, map[string]any{
			"toolActivityId": st.openToolID,
			"tool":           st.openToolName,
		})
	} else {
		o.notify(sessionID, notifications.EventToolError, map[string]any{
			"toolActivityId": st.openToolID,
			"tool":           st.openToolName,
			"error":          errMsg,
		})
	}
	st.openToolID = ""
	st.openToolName = ""
}

// onStreamError forwards an in-stream error as an activity failure. The
// run keeps going: only process exit or cancellation ends it.
func (o *Orchestrator) onStreamError(sessionID string, st *turnState, message string) {
	log.Warn().Str("session_id", sessionID).Str("error", message).Msg("agent reported stream error")
	st.streamErrors = append(st.streamErrors, message)
	if st.openToolID != "" {
		o.closeOpenTool(sessionID, st, message)
	} else {
		o.notify(sessionID, notifications.EventError, map[string]any{"error": message})
	}
}

func (o *Orchestrator) onResult(sessionID string, st *turnState, res *agent.Result) {
	if res == nil {
		return
	}
	st.result = res

	if res.ConversationID != "" {
		o.update(sessionID, func(s *session.Session) error {
			if s.ExternalConversationID == "" {
				s.ExternalConversationID = res.ConversationID
			}
			return nil
		})
	}

	// Every terminal result is a completed turn. Tool-use and
	// file-change counts must land even when the agent reports no
	// token stats.
	stats := usage.Stats{
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
		DurationMs:   res.DurationMs,
		ToolUses:     st.toolUses,
		FilesChanged: len(st.fileChanges),
	}
	if err := o.ledger.RecordUsage(sessionID, stats); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to record usage")
	}
	if totals, err := o.ledger.SessionUsage(sessionID); err == nil {
		o.notify(sessionID, notifications.EventUsageUpdate, map[string]any{
			"turn":    stats,
			"session": totals,
		})
	}
}

// finishTurn is the completion path: close whatever is still open, move
// the state machine, persist, and drain the queue when appropriate. A
// run that was superseded by a newer turn finalizes only its own
// message: the session's status belongs to its successor.
func (o *Orchestrator) finishTurn(sessionID, messageID string, st *turnState, outcome agent.Outcome, lr *liveRun) {
	wasCancelled, wasCurrent := o.clearActive(sessionID, lr)

	o.closeOpenTool(sessionID, st, "")
	if len(st.fileChanges) > 0 {
		o.notify(sessionID, notifications.EventFileChangesDone, map[string]any{
			"count": len(st.fileChanges),
		})
	}

	annotation := o.completionAnnotation(sessionID, st, outcome, wasCancelled)

	o.update(sessionID, func(s *session.Session) error {
		for _, m := range s.Messages {
			if m.ID == messageID {
				m.IsStreaming = false
				if annotation != "" {
					if m.Content != "" {
						m.Content += "\n\n"
					}
					m.Content += annotation
				}
				break
			}
		}
		if wasCurrent {
			s.Status = session.StatusIdle
		}
		s.Touch()
		return nil
	})

	if !wasCurrent {
		return
	}

	o.notify(sessionID, notifications.EventStatus, map[string]any{"status": session.StatusIdle})

	if wasCancelled {
		return
	}
	// Own queue first, then sessions that queued because the process
	// quota was saturated
	o.drainQueue(sessionID)
	o.DrainSaturated()
}

// completionAnnotation turns failures into a message-level note instead
// of a raw error, and clears the external conversation id for the two
// recognized recoverable sub-cases.
func (o *Orchestrator) completionAnnotation(sessionID string, st *turnState, outcome agent.Outcome, wasCancelled bool) string {
	if wasCancelled {
		return ""
	}

	var failure string
	switch {
	case st.result != nil && st.result.IsError:
		failure = st.result.Text
		if failure == "" {
			failure = strings.Join(st.streamErrors, "; ")
		}
	case outcome.Err != nil:
		failure = outcome.Err.Error()
		if len(st.streamErrors) > 0 {
			failure = strings.Join(st.streamErrors, "; ")
		}
	default:
		return ""
	}

	lower := strings.ToLower(failure)
	contextOverflow := strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "context low") ||
		strings.Contains(lower, "context limit") ||
		strings.Contains(lower, "exceeds the maximum")
	resumeFailed := strings.Contains(lower, "no conversation found") ||
		strings.Contains(lower, "could not resume") ||
		strings.Contains(lower, "session not found")

	if contextOverflow || resumeFailed {
		o.update(sessionID, func(s *session.Session) error {
			s.ExternalConversationID = ""
			return nil
		})
		if contextOverflow {
			return "The conversation grew past the agent's context limit, so its memory was reset. The next message starts a fresh agent conversation; earlier messages above are still here for reference."
		}
		return "The agent could not resume its previous conversation, so the next message starts a fresh one."
	}

	log.Warn().Str("session_id", sessionID).Str("error", failure).Msg("agent turn failed")
	return fmt.Sprintf("The agent run failed: %s", failure)
}

// clearActive removes the live handle only if it still belongs to this
// run. A cancelled run's slot may already hold a successor started
// after the cancel; that successor's handle must survive.
func (o *Orchestrator) clearActive(sessionID string, lr *liveRun) (cancelled, current bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[sessionID] == lr {
		delete(o.active, sessionID)
		current = true
	}
	return lr.cancelled, current
}

// drainQueue starts the next queued message, one at a time, when the
// session is idle and a process slot is free.
func (o *Orchestrator) drainQueue(sessionID string) {
	o.mu.Lock()

	sess, ok := o.store.Get(sessionID)
	if !ok || sess.Status != session.StatusIdle || len(sess.MessageQueue) == 0 {
		o.mu.Unlock()
		return
	}
	if o.store.CountRunning() >= o.cfg.MaxActiveProcesses {
		o.mu.Unlock()
		return
	}

	var next *session.QueuedMessage
	err := o.update(sessionID, func(s *session.Session) error {
		if len(s.MessageQueue) == 0 {
			return nil
		}
		next = s.MessageQueue[0]
		s.MessageQueue = s.MessageQueue[1:]
		s.Status = session.StatusRunning
		s.Touch()
		return nil
	})
	o.mu.Unlock()

	if err != nil || next == nil {
		return
	}

	o.notifyQueue(sessionID)
	log.Debug().Str("session_id", sessionID).Str("message_id", next.ID).Msg("dequeued message")
	o.startTurn(sessionID, next.Content, next.Attachments, next.AgentID, next.Mode)
}

// DrainSaturated retries queued messages across sessions after a
// process slot frees up.
func (o *Orchestrator) DrainSaturated() {
	for _, id := range o.store.IDs() {
		o.drainQueue(id)
	}
}

func (o *Orchestrator) notifyQueue(sessionID string) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return
	}
	o.notify(sessionID, notifications.EventQueueUpdated, map[string]any{
		"queue": sess.MessageQueue,
	})
}
