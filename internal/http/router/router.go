// Package router builds the gin engine for the API host.
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/httpkit"
)

// New assembles the gin engine: shared middleware, health endpoints,
// and every module's routes under /api/v1.
func New(app *apphttp.App) *gin.Engine {
	if app.Config.Environment() != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Log))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(httpkit.IPRateLimit(app.Log, 50, 100))

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     app.Config.CORSAllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/health/ready", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := app.Pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	api := engine.Group("/api/v1")
	webhooks := api.Group("/webhooks")

	rc := apphttp.RouterContext{
		API:       api,
		Webhooks:  webhooks,
		Log:       app.Log,
		Validator: app.Validator,
	}
	for _, module := range app.Modules {
		module.RegisterRoutes(rc)
		app.Log.Info("module routes registered", "module", module.Name())
	}

	return engine
}
