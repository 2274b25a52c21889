package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers every route of the JSON API on a fresh engine.
// A nil gatherer leaves /metrics unregistered.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(h.Log), CORS())

	r.GET("/health", h.Health)
	r.GET("/state", h.GetState)
	r.POST("/events", h.PostEvent)
	r.GET("/events", h.GetEvents)
	r.GET("/alerts", h.GetAlerts)
	r.POST("/assistant/query", h.AssistantQuery)

	authzGroup := r.Group("/authz")
	{
		authzGroup.POST("/onboard", h.Onboard)
		authzGroup.POST("/invites", h.CreateInvite)
		authzGroup.POST("/redeem", h.Redeem)
		authzGroup.POST("/check", h.Check)
		authzGroup.GET("/users/:id/role", h.GetRole)
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found", "message": "route not found"})
	})
	return r
}
