package handler

import (
	"net/http"

	"github.com/atopos31/keyrelay/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Register mounts every route on router. An empty token leaves the
// routes open.
func (h *Handler) Register(router *gin.Engine, token string) {
	// proxied bodies stream, so compression stays on the admin side
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/openai", "/v1"})))

	router.GET("/healthz", h.Health)

	authOpenAI := middleware.AuthOpenAI(token)
	for _, prefix := range []string{"/v1", "/openai/v1"} {
		group := router.Group(prefix, authOpenAI)
		group.GET("/models", h.ModelsHandler)
		group.POST("/chat/completions", h.ChatCompletionsHandler)
	}

	api := router.Group("/api", middleware.Auth(token))
	{
		api.GET("/keys", h.ListKeys)
		api.POST("/keys", h.CreateKey)
		api.PUT("/keys/:id", h.UpdateKey)
		api.DELETE("/keys/:id", h.DeleteKey)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)

		api.GET("/logs", h.GetUsageLogs)
	}
}

// Health reports liveness and the key currently in the active slot.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "activeKeyId": h.engine.ActiveKeyID()})
}
