// handlers_session.go - Browser session handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vm-uploader/backend/internal/models"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions SessionStore
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionStore) SessionHandler {
	return &SessionHandlerImpl{sessions: sessions}
}

// HandleCreateSession starts a new session with an empty queue
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	sess, err := h.sessions.Create()
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, sess.Info())
}

// HandleGetSession returns session metadata
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Info())
}

// HandleDeleteSession closes a session and stops all its simulators
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}
	if err := h.sessions.Delete(id); err != nil {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleListSessions returns all active sessions
func (h *SessionHandlerImpl) HandleListSessions(c echo.Context) error {
	list := h.sessions.List()
	infos := make([]models.SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	return c.JSON(http.StatusOK, infos)
}
