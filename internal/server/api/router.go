package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, uploadLimiter *RateLimiter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.Use(RequestLogger())

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Upload (rate-limited)
	e.POST("/api/upload", handler.HandleUpload, uploadLimiter.Middleware())
	e.GET("/api/retentions", handler.HandleRetentions)

	e.GET("/d/:id", handler.HandleDownload)
	e.GET("/api/info/:id", handler.HandleInfo)
	e.DELETE("/api/files/:id", handler.HandleDelete)

	return e
}
