// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions         SessionStore
	Version          string
	MaxWSMessageSize int64
	Logger           *log.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health     HealthHandler
	Session    SessionHandler
	Queue      QueueHandler
	Submission SubmissionHandler
	Stream     QueueStreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{
		Health:     NewHealthHandler(deps.Version, deps.Sessions),
		Session:    NewSessionHandler(deps.Sessions),
		Queue:      NewQueueHandler(deps.Sessions),
		Submission: NewSubmissionHandler(deps.Sessions),
		Stream:     NewWebSocketHandler(deps.Sessions, deps.MaxWSMessageSize, logger.WithPrefix("ws")),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Session routes
	apiGroup.POST("/sessions", handlers.Session.HandleCreateSession)
	apiGroup.GET("/sessions", handlers.Session.HandleListSessions)
	apiGroup.GET("/sessions/:sessionId", handlers.Session.HandleGetSession)
	apiGroup.DELETE("/sessions/:sessionId", handlers.Session.HandleDeleteSession)

	// Upload queue routes
	queueGroup := apiGroup.Group("/sessions/:sessionId")
	queueGroup.GET("/files", handlers.Queue.HandleListFiles)
	queueGroup.GET("/files/msgpack", handlers.Queue.HandleListFilesMsgpack)
	queueGroup.POST("/files", handlers.Queue.HandleIntakeFiles)
	queueGroup.POST("/files/upload", handlers.Queue.HandleUploadFiles)
	queueGroup.GET("/files/:id", handlers.Queue.HandleGetFile)
	queueGroup.DELETE("/files/:id", handlers.Queue.HandleDeleteFile)
	queueGroup.GET("/ready", handlers.Queue.HandleReady)

	// Submission routes
	queueGroup.POST("/dialog", handlers.Submission.HandleOpenDialog)
	queueGroup.DELETE("/dialog", handlers.Submission.HandleCloseDialog)
	queueGroup.POST("/submit", handlers.Submission.HandleSubmit)
	queueGroup.GET("/submissions", handlers.Submission.HandleSubmissionHistory)

	// Change feed
	queueGroup.GET("/ws", handlers.Stream.HandleWebSocket)
}

// MiddlewareOptions configures SetupMiddleware
type MiddlewareOptions struct {
	RequestLogging bool
	RequestTimeout time.Duration
	BodyLimit      string
	EnableCORS     bool
	AllowOrigins   string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !opts.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ready") ||
				strings.HasSuffix(path, "/ws") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if opts.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: opts.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/ws") ||
					strings.HasSuffix(path, "/upload")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	if opts.EnableCORS {
		origins := strings.Split(opts.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
