package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/smart-doctor/internal/common"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/handlers"
	"github.com/suPer8Hu/smart-doctor/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, limiter middleware.Counter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	// r.Use(gin.Recovery())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.Use(middleware.RateLimit(limiter, h.Cfg.RateLimitPerMinute, time.Minute))

	// chat dialog
	api.POST("/ai", h.Complete)
	api.GET("/chat/ws", h.ChatSocket)

	// async completion
	api.POST("/ai/jobs", h.CreateCompletionJob)
	api.GET("/ai/jobs/:job_id", h.GetCompletionJob)

	// diagnosis upload proxy
	api.POST("/diagnosis/:organ", h.Diagnose)
	return r
}
