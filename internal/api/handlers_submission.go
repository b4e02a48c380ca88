// handlers_submission.go - Submission dialog and submit handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SubmissionHandlerImpl implements the SubmissionHandler interface
type SubmissionHandlerImpl struct {
	sessions SessionStore
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(sessions SessionStore) SubmissionHandler {
	return &SubmissionHandlerImpl{sessions: sessions}
}

// HandleOpenDialog opens the confirmation dialog; refused on an empty queue
func (h *SubmissionHandlerImpl) HandleOpenDialog(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}
	if err := sess.Gate.OpenDialog(); err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusOK, dialogResponse{State: string(sess.Gate.DialogState())})
}

// HandleCloseDialog closes the confirmation dialog
func (h *SubmissionHandlerImpl) HandleCloseDialog(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}
	sess.Gate.CloseDialog()
	return c.JSON(http.StatusOK, dialogResponse{State: string(sess.Gate.DialogState())})
}

// HandleSubmit hands the queue to the analyst notifier
func (h *SubmissionHandlerImpl) HandleSubmit(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	ev, err := sess.Gate.Submit(c.Request().Context(), req.Contact)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusAccepted, ev)
}

// HandleSubmissionHistory lists past submissions of the session
func (h *SubmissionHandlerImpl) HandleSubmissionHistory(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Gate.History())
}

// Request/Response types

type submitRequest struct {
	Contact string `json:"contact"`
}

type dialogResponse struct {
	State string `json:"state"`
}
