package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the HTTP surface under /api.
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/subscribe", h.Subscribe)
		api.GET("/search", h.SearchMessages)

		api.GET("/repos", h.ListRepos)
		api.POST("/repos", h.AddRepoToRegistry)
		api.DELETE("/repos/:repoId", h.RemoveRepoFromRegistry)

		sessions := api.Group("/sessions")
		{
			sessions.GET("", h.ListSessions)
			sessions.POST("", h.CreateSession)
			sessions.POST("/merge", h.MergeSessions)

			sessions.GET("/:id", h.GetSession)
			sessions.DELETE("/:id", h.DeleteSession)
			sessions.GET("/:id/subscribe", h.Subscribe)

			sessions.POST("/:id/messages", h.SendMessage)
			sessions.DELETE("/:id/messages", h.ClearMessages)

			sessions.POST("/:id/mode", h.SetMode)
			sessions.POST("/:id/cancel", h.Cancel)

			sessions.GET("/:id/queue", h.ListQueue)
			sessions.POST("/:id/queue", h.QueueMessage)
			sessions.DELETE("/:id/queue", h.ClearQueue)
			sessions.DELETE("/:id/queue/:messageId", h.RemoveFromQueue)

			sessions.POST("/:id/repos", h.AddRepo)
			sessions.DELETE("/:id/repos/:repoId", h.RemoveRepo)

			sessions.POST("/:id/bookmark", h.SetBookmark)
			sessions.POST("/:id/name", h.SetName)

			sessions.GET("/:id/export", h.ExportSession)
			sessions.GET("/:id/search", h.SearchSession)
			sessions.GET("/:id/usage", h.SessionUsage)
		}
	}
}
