package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/orchestrator"
	"github.com/conductor-dev/conductor/repo"
	"github.com/conductor-dev/conductor/session"
)

// Handlers carries the dependencies shared by every endpoint.
type Handlers struct {
	orch  *orchestrator.Orchestrator
	repos *repo.Registry
	hub   *notifications.Hub
}

// NewHandlers builds the handler set.
func NewHandlers(orch *orchestrator.Orchestrator, repos *repo.Registry, hub *notifications.Hub) *Handlers {
	return &Handlers{orch: orch, repos: repos, hub: hub}
}

type createSessionRequest struct {
	RepoIDs  []string `json:"repoIds" binding:"required"`
	Worktree *struct {
		Branch       string `json:"branch,omitempty"`
		BaseBranch   string `json:"baseBranch,omitempty"`
		ExistingPath string `json:"existingPath,omitempty"`
	} `json:"worktree,omitempty"`
}

// CreateSession handles POST /api/sessions.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	var opts *orchestrator.WorktreeOptions
	if req.Worktree != nil {
		opts = &orchestrator.WorktreeOptions{}
		if req.Worktree.ExistingPath != "" {
			opts.UseExisting = &orchestrator.UseExistingWorktree{Path: req.Worktree.ExistingPath}
		} else {
			opts.CreateNew = &orchestrator.CreateNewWorktree{
				Branch:     req.Worktree.Branch,
				BaseBranch: req.Worktree.BaseBranch,
			}
		}
	}

	sess, err := h.orch.CreateSession(req.RepoIDs, opts)
	if err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondCreated(c, sess, "/api/sessions/"+sess.ID)
}

// ListSessions handles GET /api/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	RespondList(c, h.orch.Store().List())
}

// GetSession handles GET /api/sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.orch.Store().Get(c.Param("id"))
	if !ok {
		RespondNotFound(c, "session not found")
		return
	}
	RespondData(c, sess)
}

type sendMessageRequest struct {
	Content     string               `json:"content" binding:"required"`
	Attachments []session.Attachment `json:"attachments,omitempty"`
	AgentID     string               `json:"agentId,omitempty"`
}

// SendMessage handles POST /api/sessions/:id/messages.
func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	res, err := h.orch.SendMessage(c.Param("id"), req.Content, req.Attachments, req.AgentID)
	if err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondData(c, res)
}

type setModeRequest struct {
	Mode session.Mode `json:"mode" binding:"required"`
}

// SetMode handles POST /api/sessions/:id/mode.
func (h *Handlers) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.SetMode(c.Param("id"), req.Mode); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// Cancel handles POST /api/sessions/:id/cancel.
func (h *Handlers) Cancel(c *gin.Context) {
	if err := h.orch.Cancel(c.Param("id")); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

type queueMessageRequest struct {
	Content     string               `json:"content" binding:"required"`
	Attachments []session.Attachment `json:"attachments,omitempty"`
	AgentID     string               `json:"agentId,omitempty"`
}

// QueueMessage handles POST /api/sessions/:id/queue.
func (h *Handlers) QueueMessage(c *gin.Context) {
	var req queueMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.QueueMessage(c.Param("id"), req.Content, req.Attachments, req.AgentID); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// RemoveFromQueue handles DELETE /api/sessions/:id/queue/:messageId.
func (h *Handlers) RemoveFromQueue(c *gin.Context) {
	if err := h.orch.RemoveFromQueue(c.Param("id"), c.Param("messageId")); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// ClearQueue handles DELETE /api/sessions/:id/queue.
func (h *Handlers) ClearQueue(c *gin.Context) {
	if err := h.orch.ClearQueue(c.Param("id")); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// ListQueue handles GET /api/sessions/:id/queue.
func (h *Handlers) ListQueue(c *gin.Context) {
	sess, ok := h.orch.Store().Get(c.Param("id"))
	if !ok {
		RespondNotFound(c, "session not found")
		return
	}
	RespondList(c, sess.MessageQueue)
}

// ClearMessages handles DELETE /api/sessions/:id/messages.
func (h *Handlers) ClearMessages(c *gin.Context) {
	if err := h.orch.ClearMessages(c.Param("id")); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

type mergeRequest struct {
	SessionIDs []string `json:"sessionIds" binding:"required"`
}

// MergeSessions handles POST /api/sessions/merge.
func (h *Handlers) MergeSessions(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	merged, err := h.orch.MergeSessions(req.SessionIDs)
	if err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondCreated(c, merged, "/api/sessions/"+merged.ID)
}

type sessionRepoRequest struct {
	RepoID string `json:"repoId" binding:"required"`
}

// AddRepo handles POST /api/sessions/:id/repos.
func (h *Handlers) AddRepo(c *gin.Context) {
	var req sessionRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.AddRepoToSession(c.Param("id"), req.RepoID); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// RemoveRepo handles DELETE /api/sessions/:id/repos/:repoId.
func (h *Handlers) RemoveRepo(c *gin.Context) {
	if err := h.orch.RemoveRepoFromSession(c.Param("id"), c.Param("repoId")); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

type bookmarkRequest struct {
	Bookmarked *bool `json:"bookmarked" binding:"required"`
}

// SetBookmark handles POST /api/sessions/:id/bookmark.
func (h *Handlers) SetBookmark(c *gin.Context) {
	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.SetBookmark(c.Param("id"), *req.Bookmarked); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

type nameRequest struct {
	Name string `json:"name"`
}

// SetName handles POST /api/sessions/:id/name.
func (h *Handlers) SetName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.SetSessionName(c.Param("id"), req.Name); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// ExportSession handles GET /api/sessions/:id/export?format=markdown|json.
func (h *Handlers) ExportSession(c *gin.Context) {
	data, contentType, err := h.orch.ExportSession(c.Param("id"), c.Query("format"))
	if err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	c.Data(200, contentType, data)
}

// SearchMessages handles GET /api/search?q=...&sessionId=...&limit=N.
func (h *Handlers) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		RespondBadRequest(c, "query parameter q is required")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	RespondList(c, h.orch.SearchMessages(c.Query("sessionId"), query, limit))
}

// SearchSession handles GET /api/sessions/:id/search?q=...&limit=N.
func (h *Handlers) SearchSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.orch.Store().Exists(sessionID) {
		RespondNotFound(c, "session not found")
		return
	}
	query := c.Query("q")
	if query == "" {
		RespondBadRequest(c, "query parameter q is required")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	RespondList(c, h.orch.SearchMessages(sessionID, query, limit))
}

// DeleteSession handles DELETE /api/sessions/:id?deleteBranch=&deleteWorktree=.
func (h *Handlers) DeleteSession(c *gin.Context) {
	deleteBranch := c.Query("deleteBranch") == "true"
	deleteWorktree := c.DefaultQuery("deleteWorktree", "true") == "true"
	if err := h.orch.DeleteSession(c.Param("id"), deleteBranch, deleteWorktree); err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondNoContent(c)
}

// SessionUsage handles GET /api/sessions/:id/usage.
func (h *Handlers) SessionUsage(c *gin.Context) {
	snap, err := h.orch.SessionUsage(c.Param("id"))
	if err != nil {
		RespondOrchestratorError(c, err)
		return
	}
	RespondData(c, snap)
}
