package api

import (
	"github.com/gin-gonic/gin"
)

// ListRepos handles GET /api/repos.
func (h *Handlers) ListRepos(c *gin.Context) {
	RespondList(c, h.repos.List())
}

type addRepoRequest struct {
	ID   string `json:"id" binding:"required"`
	Path string `json:"path" binding:"required"`
}

// AddRepoToRegistry handles POST /api/repos.
func (h *Handlers) AddRepoToRegistry(c *gin.Context) {
	var req addRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.repos.Add(req.ID, req.Path); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	RespondNoContent(c)
}

// RemoveRepoFromRegistry handles DELETE /api/repos/:repoId.
func (h *Handlers) RemoveRepoFromRegistry(c *gin.Context) {
	if err := h.repos.Remove(c.Param("repoId")); err != nil {
		RespondNotFound(c, err.Error())
		return
	}
	RespondNoContent(c)
}
