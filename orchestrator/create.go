package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/session"
	"github.com/conductor-dev/conductor/worktree"
)

// WorktreeOptions is the tagged variant attached to session creation.
// Exactly one of CreateNew or UseExisting may be set.
type WorktreeOptions struct {
	// CreateNew makes a fresh worktree on this branch; the session
	// owns it and deletes it on teardown.
	CreateNew *CreateNewWorktree `json:"createNew,omitempty"`
	// UseExisting borrows a worktree the user manages; the session
	// never deletes it.
	UseExisting *UseExistingWorktree `json:"useExisting,omitempty"`
}

// CreateNewWorktree names the branch for a fresh worktree.
type CreateNewWorktree struct {
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

// UseExistingWorktree points at a worktree that already exists.
type UseExistingWorktree struct {
	Path string `json:"path"`
}

// CreateSession makes a new idle session bound to the given
// repositories, optionally with an isolated worktree.
func (o *Orchestrator) CreateSession(repoIDs []string, opts *WorktreeOptions) (*session.Session, error) {
	if len(repoIDs) == 0 {
		return nil, validationf("at least one repository is required")
	}
	for _, id := range repoIDs {
		if !o.repos.Has(id) {
			return nil, validationf("unknown repository %q", id)
		}
	}
	if opts != nil && (opts.CreateNew != nil || opts.UseExisting != nil) && len(repoIDs) > 1 {
		return nil, validationf("worktree mode requires exactly one repository")
	}
	if opts != nil && opts.CreateNew != nil && opts.UseExisting != nil {
		return nil, validationf("createNew and useExisting are mutually exclusive")
	}

	now := time.Now()
	sess := &session.Session{
		ID:             uuid.New().String(),
		RepoIDs:        append([]string(nil), repoIDs...),
		Status:         session.StatusIdle,
		Mode:           session.ModeDirect,
		Messages:       []*session.ChatMessage{},
		CreatedAt:      now,
		LastActivityAt: now,
	}

	// The capacity check and the Put must be one atomic step, or two
	// concurrent creates at the ceiling both pass the check. The slot
	// is reserved first; the slow git work happens outside the lock.
	o.mu.Lock()
	if o.store.Count() >= o.cfg.MaxTotalSessions {
		o.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	o.store.Put(sess)
	o.mu.Unlock()

	if opts != nil {
		var err error
		switch {
		case opts.CreateNew != nil:
			err = o.attachNewWorktree(sess, repoIDs[0], opts.CreateNew)
		case opts.UseExisting != nil:
			err = o.attachExistingWorktree(sess, opts.UseExisting.Path)
		}
		if err != nil {
			o.store.Delete(sess.ID)
			return nil, err
		}
		o.store.Put(sess)
	}

	log.Info().
		Str("session_id", sess.ID).
		Strs("repos", sess.RepoIDs).
		Bool("worktree", sess.WorktreeMode).
		Msg("session created")
	o.notify("", notifications.EventSessionListChanged, nil)

	return sess.Clone(), nil
}

// attachNewWorktree creates the worktree under the convention path and
// marks the session as its owner.
func (o *Orchestrator) attachNewWorktree(sess *session.Session, repoID string, opt *CreateNewWorktree) error {
	if err := worktree.ValidateBranchName(opt.Branch); err != nil {
		return validationf("%s", err.Error())
	}

	repoPath, err := o.repos.Resolve(repoID)
	if err != nil {
		return validationf("%s", err.Error())
	}

	baseBranch := opt.BaseBranch
	if baseBranch == "" {
		baseBranch = o.trees.MainBranch(repoPath)
	}

	target := worktree.ConventionPath(repoPath, repoID, sess.ID)
	if err := o.trees.Create(repoPath, target, opt.Branch, baseBranch); err != nil {
		return err
	}

	sess.WorktreeMode = true
	sess.WorktreePath = target
	sess.Branch = opt.Branch
	sess.BaseBranch = baseBranch
	sess.Ownership = session.OwnershipOwned
	return nil
}

// attachExistingWorktree borrows a worktree the user already manages.
func (o *Orchestrator) attachExistingWorktree(sess *session.Session, path string) error {
	if !o.trees.IsValid(path) {
		return validationf("%q is not a valid git worktree", path)
	}
	branch, err := o.trees.Branch(path)
	if err != nil {
		return validationf("%s", err.Error())
	}

	sess.WorktreeMode = true
	sess.WorktreePath = path
	sess.Branch = branch
	sess.Ownership = session.OwnershipBorrowed
	return nil
}
