package api

import (
	"courier/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Ingestion (rate-limited)
	e.POST("/upload", handler.HandleUpload, uploadLimiter.Middleware())

	// Verification & public summary
	e.POST("/verify/:id", handler.HandleVerify)
	e.GET("/transfer/:id", handler.HandleSummary)

	// Downloads
	e.GET("/download/:id/:filename", handler.HandleDownload)
	e.GET("/download-all/:id", handler.HandleDownloadAll)

	return e
}
