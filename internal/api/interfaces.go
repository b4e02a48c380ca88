// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/vm-uploader/backend/internal/session"
)

// SessionHandler handles browser session lifecycle
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
}

// QueueHandler handles intake, deletion and queue views
type QueueHandler interface {
	HandleListFiles(c echo.Context) error
	HandleListFilesMsgpack(c echo.Context) error
	HandleIntakeFiles(c echo.Context) error
	HandleUploadFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleReady(c echo.Context) error
}

// SubmissionHandler handles the confirmation dialog and submit action
type SubmissionHandler interface {
	HandleOpenDialog(c echo.Context) error
	HandleCloseDialog(c echo.Context) error
	HandleSubmit(c echo.Context) error
	HandleSubmissionHistory(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// QueueStreamHandler pushes queue events to the browser
type QueueStreamHandler interface {
	HandleWebSocket(c echo.Context) error
}

// SessionStore defines the session operations the handlers need.
// This allows mocking in tests
type SessionStore interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Delete(id string) error
	List() []*session.Session
	Count() int
}

// loadSession resolves the :sessionId path parameter.
func loadSession(c echo.Context, sessions SessionStore) (*session.Session, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}
	sess, ok := sessions.Get(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	return sess, nil
}
