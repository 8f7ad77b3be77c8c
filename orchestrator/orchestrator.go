// Package orchestrator owns the session lifecycle state machine: it
// validates commands, enforces the global concurrency and queueing
// policy, drives agent invocations, and translates their events into
// session mutations and push notifications.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conductor-dev/conductor/agent"
	"github.com/conductor-dev/conductor/config"
	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/repo"
	"github.com/conductor-dev/conductor/session"
	"github.com/conductor-dev/conductor/usage"
)

// Runner spawns agent invocations.
type Runner interface {
	Start(opts agent.InvokeOptions) agent.Run
}

// Worktrees is the git worktree surface the orchestrator drives.
type Worktrees interface {
	Create(repoPath, targetPath, branch, baseBranch string) error
	IsValid(path string) bool
	Branch(path string) (string, error)
	Remove(repoPath, worktreePath, branchToDelete string) error
	MainBranch(repoPath string) string
	PruneOrphans(repoPath, repoID string, known map[string]bool) int
}

// Ledger receives usage events and answers usage queries.
type Ledger interface {
	RecordUsage(sessionID string, s usage.Stats) error
	SessionUsage(sessionID string) (usage.Totals, error)
	DayUsage(now time.Time) (usage.Totals, error)
	WeekUsage(now time.Time) (usage.Totals, error)
}

// SkillEngine runs named playbooks as an opaque async operation.
type SkillEngine interface {
	Run(sessionID, name, input string) (output string, err error)
}

// liveRun is the non-persisted handle to one in-flight invocation.
type liveRun struct {
	run       agent.Run
	cancelled bool
}

// Orchestrator coordinates every session. One instance owns the store;
// all mutations flow through it.
type Orchestrator struct {
	cfg    *config.Config
	store  *session.Store
	repos  *repo.Registry
	trees  Worktrees
	runner Runner
	ledger Ledger
	hub    *notifications.Hub
	skills SkillEngine

	mu     sync.Mutex
	active map[string]*liveRun

	wg         sync.WaitGroup
	reaperStop chan struct{}
	reaperOnce sync.Once
}

// New wires an orchestrator. The store should already be loaded.
func New(cfg *config.Config, store *session.Store, repos *repo.Registry, trees Worktrees, runner Runner, ledger Ledger, hub *notifications.Hub) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		repos:      repos,
		trees:      trees,
		runner:     runner,
		ledger:     ledger,
		hub:        hub,
		active:     make(map[string]*liveRun),
		reaperStop: make(chan struct{}),
	}
}

// SetSkillEngine attaches the optional skill/playbook engine.
func (o *Orchestrator) SetSkillEngine(engine SkillEngine) {
	o.skills = engine
}

// Store exposes the session store for read-side consumers.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// ValidateLoadedSession clears worktree fields that no longer point at
// a valid worktree. Passed to Store.LoadAll at startup.
func (o *Orchestrator) ValidateLoadedSession(sess *session.Session) {
	if !sess.WorktreeMode {
		return
	}
	if sess.WorktreePath == "" || !o.trees.IsValid(sess.WorktreePath) {
		log.Warn().
			Str("session_id", sess.ID).
			Str("path", sess.WorktreePath).
			Msg("clearing stale worktree fields")
		sess.WorktreeMode = false
		sess.WorktreePath = ""
		sess.Branch = ""
		sess.BaseBranch = ""
		sess.Ownership = session.OwnershipUnknown
	}
}

// ReconcileWorktrees removes worktree directories left behind by a
// prior crash: anything under a repository's convention path whose
// session is gone or no longer in worktree mode.
func (o *Orchestrator) ReconcileWorktrees() {
	known := make(map[string]bool)
	for _, id := range o.store.IDs() {
		sess, ok := o.store.Get(id)
		if ok && sess.WorktreeMode {
			known[id] = true
		}
	}

	total := 0
	for repoID, repoPath := range o.repos.Paths() {
		total += o.trees.PruneOrphans(repoPath, repoID, known)
	}
	if total > 0 {
		log.Info().Int("count", total).Msg("pruned orphaned worktrees")
	}
}

// notify pushes one event for a session.
func (o *Orchestrator) notify(sessionID string, typ notifications.EventType, data any) {
	o.hub.Notify(notifications.Event{
		Type:      typ,
		SessionID: sessionID,
		Data:      data,
	})
}

// NotifySessionState pushes a full snapshot, used on subscribe and when
// a session file changes externally.
func (o *Orchestrator) NotifySessionState(sessionID string) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return
	}
	o.notify(sessionID, notifications.EventSessionState, sess)
}

// activeRun returns the live handle for a session, if any.
func (o *Orchestrator) activeRun(sessionID string) *liveRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[sessionID]
}

// Shutdown stops the reaper and winds down every in-flight invocation,
// asking nicely first and escalating after the context expires.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.stopReaper()

	o.mu.Lock()
	runs := make([]*liveRun, 0, len(o.active))
	for _, lr := range o.active {
		runs = append(runs, lr)
	}
	o.mu.Unlock()

	for _, lr := range runs {
		go lr.run.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all agent turns drained")
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline hit, killing remaining agent processes")
		for _, lr := range runs {
			lr.run.Kill()
		}
		o.wg.Wait()
	}
}

// update wraps Store.Update, mapping the store's not-found error onto
// the command-layer sentinel.
func (o *Orchestrator) update(sessionID string, fn func(*session.Session) error) error {
	err := o.store.Update(sessionID, fn)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
