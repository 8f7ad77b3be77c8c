package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/session"
	"github.com/conductor-dev/conductor/usage"
)

// Cancel force-terminates a session's in-flight turn. Idempotent: a
// session with no active process is left untouched and emits nothing.
func (o *Orchestrator) Cancel(sessionID string) error {
	if !o.store.Exists(sessionID) {
		return ErrSessionNotFound
	}

	o.mu.Lock()
	lr, ok := o.active[sessionID]
	if ok {
		lr.cancelled = true
	}
	o.mu.Unlock()

	if !ok {
		return nil
	}

	// Status flips back synchronously; OS confirmation of process
	// death is not awaited
	lr.run.Kill()

	o.update(sessionID, func(s *session.Session) error {
		if m := s.StreamingMessage(); m != nil {
			if m.Content != "" {
				m.Content += "\n\n"
			}
			m.Content += "[cancelled]"
			m.IsStreaming = false
		}
		s.Status = session.StatusIdle
		s.Touch()
		return nil
	})

	log.Info().Str("session_id", sessionID).Msg("turn cancelled")
	o.notify(sessionID, notifications.EventCancelled, nil)
	o.notify(sessionID, notifications.EventStatus, map[string]any{"status": session.StatusIdle})
	return nil
}

// SetMode switches between plan and direct mode for future turns.
func (o *Orchestrator) SetMode(sessionID string, mode session.Mode) error {
	if mode != session.ModePlan && mode != session.ModeDirect {
		return validationf("invalid mode %q", string(mode))
	}
	err := o.update(sessionID, func(s *session.Session) error {
		s.Mode = mode
		s.Touch()
		return nil
	})
	if err != nil {
		return err
	}
	o.notify(sessionID, notifications.EventModeChanged, map[string]any{"mode": mode})
	return nil
}

// SetBookmark marks or unmarks a session. Bookmarked sessions are
// exempt from idle eviction.
func (o *Orchestrator) SetBookmark(sessionID string, bookmarked bool) error {
	err := o.update(sessionID, func(s *session.Session) error {
		s.IsBookmarked = bookmarked
		if bookmarked {
			now := time.Now()
			s.BookmarkedAt = &now
		} else {
			s.BookmarkedAt = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.notify(sessionID, notifications.EventBookmarkChanged, map[string]any{"bookmarked": bookmarked})
	return nil
}

// SetSessionName sets the user label.
func (o *Orchestrator) SetSessionName(sessionID, name string) error {
	err := o.update(sessionID, func(s *session.Session) error {
		s.Name = name
		return nil
	})
	if err != nil {
		return err
	}
	o.notify("", notifications.EventSessionListChanged, nil)
	return nil
}

// ClearMessages empties the transcript without touching queue, worktree
// or conversation id.
func (o *Orchestrator) ClearMessages(sessionID string) error {
	err := o.update(sessionID, func(s *session.Session) error {
		s.Messages = []*session.ChatMessage{}
		s.Touch()
		return nil
	})
	if err != nil {
		return err
	}
	o.notify(sessionID, notifications.EventMessagesCleared, nil)
	return nil
}

// QueueMessage enqueues explicitly, regardless of the session's state.
func (o *Orchestrator) QueueMessage(sessionID, content string, attachments []session.Attachment, agentID string) error {
	if content == "" {
		return validationf("message content is required")
	}
	if !o.store.Exists(sessionID) {
		return ErrSessionNotFound
	}
	return o.enqueue(sessionID, content, attachments, agentID)
}

// RemoveFromQueue drops one queued message by id.
func (o *Orchestrator) RemoveFromQueue(sessionID, messageID string) error {
	err := o.update(sessionID, func(s *session.Session) error {
		for i, q := range s.MessageQueue {
			if q.ID == messageID {
				s.MessageQueue = append(s.MessageQueue[:i], s.MessageQueue[i+1:]...)
				return nil
			}
		}
		return validationf("message %q is not queued", messageID)
	})
	if err != nil {
		return err
	}
	o.notifyQueue(sessionID)
	return nil
}

// ClearQueue drops every queued message.
func (o *Orchestrator) ClearQueue(sessionID string) error {
	err := o.update(sessionID, func(s *session.Session) error {
		s.MessageQueue = nil
		return nil
	})
	if err != nil {
		return err
	}
	o.notifyQueue(sessionID)
	return nil
}

// AddRepoToSession binds another repository. Worktree sessions stay
// single-repo.
func (o *Orchestrator) AddRepoToSession(sessionID, repoID string) error {
	if !o.repos.Has(repoID) {
		return validationf("unknown repository %q", repoID)
	}
	err := o.update(sessionID, func(s *session.Session) error {
		if s.WorktreeMode {
			return validationf("worktree sessions are bound to exactly one repository")
		}
		if s.HasRepo(repoID) {
			return validationf("repository %q is already part of this session", repoID)
		}
		s.RepoIDs = append(s.RepoIDs, repoID)
		s.Touch()
		return nil
	})
	if err != nil {
		return err
	}
	o.NotifySessionState(sessionID)
	return nil
}

// RemoveRepoFromSession unbinds a repository; the list stays non-empty.
func (o *Orchestrator) RemoveRepoFromSession(sessionID, repoID string) error {
	err := o.update(sessionID, func(s *session.Session) error {
		if !s.HasRepo(repoID) {
			return validationf("repository %q is not part of this session", repoID)
		}
		if len(s.RepoIDs) == 1 {
			return validationf("a session needs at least one repository")
		}
		out := s.RepoIDs[:0]
		for _, id := range s.RepoIDs {
			if id != repoID {
				out = append(out, id)
			}
		}
		s.RepoIDs = out
		s.Touch()
		return nil
	})
	if err != nil {
		return err
	}
	o.NotifySessionState(sessionID)
	return nil
}

// MergeSessions combines two or more idle sessions into one fresh
// session spanning the union of their repositories. The constituents
// are cancelled and deleted; the merged session starts with an empty
// transcript and records its provenance.
func (o *Orchestrator) MergeSessions(sessionIDs []string) (*session.Session, error) {
	if len(sessionIDs) < 2 {
		return nil, validationf("merging requires at least two sessions")
	}

	var repoIDs []string
	seen := make(map[string]bool)
	var mode session.Mode

	for i, id := range sessionIDs {
		sess, ok := o.store.Get(id)
		if !ok {
			return nil, ErrSessionNotFound
		}
		if sess.Status == session.StatusRunning {
			return nil, ErrSessionRunning
		}
		if i == 0 {
			mode = sess.Mode
		}
		for _, repoID := range sess.RepoIDs {
			if !seen[repoID] {
				seen[repoID] = true
				repoIDs = append(repoIDs, repoID)
			}
		}
	}

	now := time.Now()
	merged := &session.Session{
		ID:                   uuid.New().String(),
		RepoIDs:              repoIDs,
		Status:               session.StatusIdle,
		Mode:                 mode,
		Messages:             []*session.ChatMessage{},
		CreatedAt:            now,
		LastActivityAt:       now,
		MergedFromSessionIDs: append([]string(nil), sessionIDs...),
	}
	o.store.Put(merged)

	for _, id := range sessionIDs {
		o.Cancel(id)
		if err := o.DeleteSession(id, false, true); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to delete merged-away session")
		}
	}

	log.Info().
		Str("session_id", merged.ID).
		Strs("merged_from", sessionIDs).
		Msg("sessions merged")
	o.notify("", notifications.EventSessionListChanged, nil)
	return merged.Clone(), nil
}

// DeleteSession tears a session down: cancels any in-flight turn,
// removes attachment files, and removes the worktree only when this
// session explicitly owns it and removal was requested. A borrowed or
// unknown-ownership worktree is never touched, whatever the flags say.
func (o *Orchestrator) DeleteSession(sessionID string, deleteBranch, deleteWorktree bool) error {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	o.Cancel(sessionID)

	attachDir := filepath.Join(o.cfg.AttachmentsDir(), sessionID)
	if err := os.RemoveAll(attachDir); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to remove attachments")
	}

	if sess.WorktreeMode && deleteWorktree && sess.Ownership == session.OwnershipOwned {
		repoPath, err := o.repos.Resolve(sess.PrimaryRepo())
		if err == nil {
			branch := ""
			if deleteBranch {
				branch = sess.Branch
			}
			// Removal is best-effort: a stuck worktree must never
			// block session deletion
			if err := o.trees.Remove(repoPath, sess.WorktreePath, branch); err != nil {
				log.Error().Err(err).Str("session_id", sessionID).Msg("worktree removal failed")
			}
		} else {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("cannot resolve repo for worktree removal")
		}
	}

	o.store.Delete(sessionID)
	log.Info().Str("session_id", sessionID).Msg("session deleted")
	o.notify("", notifications.EventSessionListChanged, nil)
	return nil
}

// ExportSession renders a session as markdown or structured JSON.
func (o *Orchestrator) ExportSession(sessionID, format string) ([]byte, string, error) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return nil, "", ErrSessionNotFound
	}
	switch format {
	case "json":
		data, err := sess.ExportJSON()
		return data, "application/json", err
	case "markdown", "":
		return []byte(sess.ExportMarkdown()), "text/markdown", nil
	default:
		return nil, "", validationf("unsupported export format %q", format)
	}
}

// SearchMessages scans transcripts; sessionID narrows to one session
// when non-empty.
func (o *Orchestrator) SearchMessages(sessionID, query string, limit int) []session.SearchResult {
	return o.store.SearchMessages(sessionID, query, limit)
}

// UsageSnapshot combines the ledger's aggregates with live transcript
// counters.
type UsageSnapshot struct {
	Totals       usage.Totals `json:"totals"`
	MessageCount int          `json:"messageCount"`
	Day          usage.Totals `json:"day"`
	Week         usage.Totals `json:"week"`
}

// SessionUsage answers the usage query for one session.
func (o *Orchestrator) SessionUsage(sessionID string) (UsageSnapshot, error) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return UsageSnapshot{}, ErrSessionNotFound
	}
	totals, err := o.ledger.SessionUsage(sessionID)
	if err != nil {
		return UsageSnapshot{}, fmt.Errorf("failed to read session usage: %w", err)
	}
	snap := UsageSnapshot{
		Totals:       totals,
		MessageCount: len(sess.Messages),
	}
	now := time.Now()
	if day, err := o.ledger.DayUsage(now); err == nil {
		snap.Day = day
	}
	if week, err := o.ledger.WeekUsage(now); err == nil {
		snap.Week = week
	}
	return snap, nil
}
