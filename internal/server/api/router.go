package api

import (
	"context"
	"strconv"

	"fcshare/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// multipartOverhead is allowed on top of the file size ceiling for form
// boundaries and other fields.
const multipartOverhead = 1 << 20

// SetupRouter creates and configures the echo router with all routes and middleware.
// Background work started for the router stops when ctx is done.
func SetupRouter(ctx context.Context, handler *Handler, resolver IdentityResolver, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = newFormValidator()
	e.HTTPErrorHandler = newHTTPErrorHandler(e, cfg.MaxFileSize)

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	optionalAuth := Authenticate(resolver, false)
	requiredAuth := Authenticate(resolver, true)

	// Rate limiter on login only
	loginLimiter := NewRateLimiter(ctx, cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst)

	e.GET("/health", handler.HandleHealth)

	e.POST("/login", handler.HandleLogin, loginLimiter.Middleware())

	// Upload (anonymous or authenticated)
	bodyLimit := middleware.BodyLimit(strconv.FormatInt(cfg.MaxFileSize+multipartOverhead, 10) + "B")
	e.POST("/short-link/", handler.HandleUpload, bodyLimit, optionalAuth)
	e.POST("/short-link", handler.HandleUpload, bodyLimit, optionalAuth)

	// Download
	e.GET("/short-link/:slug", handler.HandleDownload, optionalAuth)
	e.GET("/short-link/:slug/qrcode", handler.HandleQRCode, optionalAuth)

	// Statistics
	e.POST("/statistics", handler.HandleCreateStatistics, requiredAuth)
	e.GET("/statistics/:job_id", handler.HandleGetStatistics, requiredAuth)

	return e
}
