package controller

import (
	"net/http"

	"codelab/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries what NewRouter needs besides the controller.
type RouterConfig struct {
	Gatherer prometheus.Gatherer
	// RunLimiter guards run creation. Nil disables limiting.
	RunLimiter *middleware.IPRateLimiter
	OnLimited  func()
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(h *RunController, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.TraceContextMiddleware(), middleware.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	api.POST("/runs", middleware.RateLimitMiddleware(cfg.RunLimiter, cfg.OnLimited), h.CreateRun)
	api.GET("/runs/:id", h.GetRun)
	api.GET("/runs/:id/stream", h.StreamRun)
	api.POST("/compare", h.Compare)

	router.POST("/webhook/output", h.Webhook)
	router.GET("/results/:id", h.GetRun)
	return router
}
