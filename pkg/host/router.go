package host

import (
	"net/http"

	ginslog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
)

// Router builds the gin engine serving the SSO endpoints.
func (h *Host) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), ginslog.SetLogger(), corsMiddleware())
	if h.recorder != nil {
		router.Use(h.recorder.Middleware())
		router.GET("/metrics", gin.WrapH(h.recorder.Handler()))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/sso/configuration", h.configuration)

	app := router.Group("/", h.sessionMiddleware)
	app.GET("/", h.pageLoad)
	app.POST("/sso/authorize", h.authorize)
	app.GET("/sso/redirect", h.redirectLanding)
	app.GET("/sso/status", h.status)
	app.POST("/sso/logout", h.logout)
	app.Any("/api/*path", h.proxy)

	if h.mcp != nil {
		for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
			app.Handle(method, "/mcp", gin.WrapH(h.mcp))
		}
	}
	return router
}
