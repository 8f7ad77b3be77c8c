// Package worktree wraps git worktree creation, validation and removal
// for isolated per-session checkouts.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conductor-dev/conductor/log"
)

// MarkerDir is the directory segment that holds all session worktrees,
// created as a sibling of each repository. The fixed name lets orphan
// reconciliation recognize worktrees without a side index.
const MarkerDir = ".conductor-worktrees"

// MaxBranchNameLength bounds user-provided branch names.
const MaxBranchNameLength = 100

// Git branch names cannot contain space, ~, ^, :, ?, *, [, \ or control
// characters, cannot start with - and cannot end with .lock.
var validBranchName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// ValidateBranchName checks whether a branch name is acceptable to git.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name is required")
	}
	if len(branch) > MaxBranchNameLength {
		return fmt.Errorf("branch name too long (max %d characters)", MaxBranchNameLength)
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name cannot end with '.lock'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !validBranchName.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters (use letters, numbers, /, _, ., -)")
	}
	return nil
}

// Controller runs git worktree operations against repositories.
type Controller struct{}

// NewController creates a worktree controller.
func NewController() *Controller {
	return &Controller{}
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// ConventionPath returns the deterministic location for a session's
// worktree: <parent-of-repo>/<MarkerDir>/<repoID>/<sessionID>.
func ConventionPath(repoPath, repoID, sessionID string) string {
	return filepath.Join(filepath.Dir(repoPath), MarkerDir, repoID, sessionID)
}

// Create adds a worktree at targetPath on a new branch. baseBranch, when
// non-empty, is used as the start point; otherwise HEAD. A partially
// created worktree is forcibly removed before the error propagates.
func (c *Controller) Create(repoPath, targetPath, branch, baseBranch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent dir: %w", err)
	}

	startPoint := "HEAD"
	if baseBranch != "" {
		startPoint = baseBranch
	}

	log.Info().
		Str("repo", repoPath).
		Str("branch", branch).
		Str("path", targetPath).
		Str("from", startPoint).
		Msg("creating git worktree")

	out, err := git(repoPath, "worktree", "add", "-b", branch, targetPath, startPoint)
	if err != nil {
		c.cleanupPartial(repoPath, targetPath)
		return fmt.Errorf("failed to create worktree: %s: %w", strings.TrimSpace(out), err)
	}

	c.prepareEnvironment(repoPath, targetPath)
	return nil
}

// cleanupPartial removes whatever a failed Create left behind.
func (c *Controller) cleanupPartial(repoPath, targetPath string) {
	git(repoPath, "worktree", "remove", targetPath, "--force")
	if err := os.RemoveAll(targetPath); err != nil {
		log.Warn().Err(err).Str("path", targetPath).Msg("failed to clean up partial worktree")
	}
	git(repoPath, "worktree", "prune")
}

// prepareEnvironment copies the main checkout's .env file and links its
// dependency cache into a fresh worktree. Best effort: failures are
// warnings, not errors.
func (c *Controller) prepareEnvironment(repoPath, worktreePath string) {
	envSrc := filepath.Join(repoPath, ".env")
	if data, err := os.ReadFile(envSrc); err == nil {
		dst := filepath.Join(worktreePath, ".env")
		if err := os.WriteFile(dst, data, 0600); err != nil {
			log.Warn().Err(err).Str("path", dst).Msg("failed to copy .env into worktree")
		}
	}

	cacheSrc := filepath.Join(repoPath, "node_modules")
	if info, err := os.Stat(cacheSrc); err == nil && info.IsDir() {
		dst := filepath.Join(worktreePath, "node_modules")
		if _, err := os.Lstat(dst); err == nil {
			return
		}
		if err := os.Symlink(cacheSrc, dst); err != nil {
			log.Warn().Err(err).Str("path", dst).Msg("failed to link dependency cache into worktree")
		}
	}
}

// IsValid reports whether path is an existing, legitimate git worktree.
func (c *Controller) IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	// A linked worktree has a .git file (not directory) pointing back
	// at the repository
	gitPath := filepath.Join(path, ".git")
	if _, err := os.Stat(gitPath); err != nil {
		return false
	}
	_, err = git(path, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Branch returns the checked-out branch of a worktree.
func (c *Controller) Branch(path string) (string, error) {
	out, err := git(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve worktree branch: %s: %w", strings.TrimSpace(out), err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" || branch == "HEAD" {
		return "", fmt.Errorf("worktree %s has no branch checked out", path)
	}
	return branch, nil
}

// Remove deletes a worktree. A worktree that is already gone counts as
// success, and a failed git-level removal falls back to plain filesystem
// deletion. branchToDelete, when non-empty, is deleted afterwards on a
// best-effort basis.
func (c *Controller) Remove(repoPath, worktreePath, branchToDelete string) error {
	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		log.Debug().Str("path", worktreePath).Msg("worktree already gone")
		git(repoPath, "worktree", "prune")
	} else {
		out, err := git(repoPath, "worktree", "remove", worktreePath, "--force")
		if err != nil {
			log.Warn().
				Str("path", worktreePath).
				Str("output", strings.TrimSpace(out)).
				Msg("git worktree remove failed, trying direct removal")
			if err := os.RemoveAll(worktreePath); err != nil {
				return fmt.Errorf("failed to remove worktree %s: %w", worktreePath, err)
			}
		}
		git(repoPath, "worktree", "prune")
	}

	if branchToDelete != "" {
		if out, err := git(repoPath, "branch", "-D", branchToDelete); err != nil {
			log.Warn().
				Str("branch", branchToDelete).
				Str("output", strings.TrimSpace(out)).
				Msg("failed to delete branch (may already be deleted)")
		}
	}

	return nil
}

// MainBranch returns the repository's default branch, preferring
// origin's HEAD reference and falling back through origin/main,
// origin/master and finally "main".
func (c *Controller) MainBranch(repoPath string) string {
	out, err := git(repoPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(out)
		if strings.HasPrefix(ref, "refs/remotes/origin/") {
			return strings.TrimPrefix(ref, "refs/remotes/origin/")
		}
	}
	if _, err := git(repoPath, "rev-parse", "--verify", "origin/main"); err == nil {
		return "main"
	}
	if _, err := git(repoPath, "rev-parse", "--verify", "origin/master"); err == nil {
		return "master"
	}
	return "main"
}

// Orphan is a worktree directory with no owning session.
type Orphan struct {
	Path      string
	RepoID    string
	SessionID string
}

// FindOrphans scans the convention directory beside repoPath for
// worktrees whose session id is not in known. Missing directories are
// not an error.
func (c *Controller) FindOrphans(repoPath, repoID string, known map[string]bool) []Orphan {
	dir := filepath.Join(filepath.Dir(repoPath), MarkerDir, repoID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var orphans []Orphan
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		if !known[sessionID] {
			orphans = append(orphans, Orphan{
				Path:      filepath.Join(dir, sessionID),
				RepoID:    repoID,
				SessionID: sessionID,
			})
		}
	}
	return orphans
}

// PruneOrphans removes orphaned worktrees, returning how many were
// cleaned up.
func (c *Controller) PruneOrphans(repoPath, repoID string, known map[string]bool) int {
	pruned := 0
	for _, orphan := range c.FindOrphans(repoPath, repoID, known) {
		log.Info().
			Str("path", orphan.Path).
			Str("session_id", orphan.SessionID).
			Msg("pruning orphaned worktree")
		if err := c.Remove(repoPath, orphan.Path, ""); err != nil {
			log.Error().Err(err).Str("path", orphan.Path).Msg("failed to prune orphan")
			continue
		}
		pruned++
	}
	return pruned
}
