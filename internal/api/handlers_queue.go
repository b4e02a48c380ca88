// handlers_queue.go - Upload queue handlers
package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// QueueHandlerImpl implements the QueueHandler interface
type QueueHandlerImpl struct {
	sessions SessionStore
}

// NewQueueHandler creates a new queue handler instance
func NewQueueHandler(sessions SessionStore) QueueHandler {
	return &QueueHandlerImpl{sessions: sessions}
}

// HandleListFiles returns the queue snapshot in insertion order
func (h *QueueHandlerImpl) HandleListFiles(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Queue.Snapshot())
}

// HandleListFilesMsgpack returns the queue snapshot encoded as msgpack
func (h *QueueHandlerImpl) HandleListFilesMsgpack(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	files := sess.Queue.Snapshot()
	data, err := msgpack.Marshal(map[string]interface{}{
		"files": files,
		"count": len(files),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleIntakeFiles queues a batch of file descriptors from the drop zone
func (h *QueueHandlerImpl) HandleIntakeFiles(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	var req intakeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	added, err := sess.Queue.Intake(req.Files)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, added)
}

// HandleUploadFiles accepts multipart file parts, records their name, size and
// detected type, and queues them. File contents are not kept.
func (h *QueueHandlerImpl) HandleUploadFiles(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		return NewBadRequestError("no files provided", nil)
	}

	descriptors := make([]models.FileDescriptor, 0, len(headers))
	for _, fh := range headers {
		contentType, err := detectContentType(fh)
		if err != nil {
			return NewBadRequestError(fmt.Sprintf("failed to read %s", fh.Filename), err)
		}
		descriptors = append(descriptors, models.FileDescriptor{
			Name:        fh.Filename,
			SizeBytes:   fh.Size,
			ContentType: contentType,
		})
	}

	added, err := sess.Queue.Intake(descriptors)
	if err != nil {
		return FromDomainError(err)
	}
	return c.JSON(http.StatusCreated, added)
}

// HandleGetFile returns a single queued file
func (h *QueueHandlerImpl) HandleGetFile(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	f, ok := sess.Queue.Get(id)
	if !ok {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, f)
}

// HandleDeleteFile removes a file from the queue and cancels its upload
func (h *QueueHandlerImpl) HandleDeleteFile(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if err := sess.Queue.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleReady reports whether the submit action is available
func (h *QueueHandlerImpl) HandleReady(c echo.Context) error {
	sess, err := loadSession(c, h.sessions)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, readyResponse{
		Ready:       sess.Queue.IsReadyToSubmit(),
		Count:       sess.Queue.Len(),
		TotalBytes:  sess.Queue.TotalBytes(),
		AllComplete: sess.Queue.AllComplete(),
	})
}

// Request/Response types

type intakeRequest struct {
	Files []models.FileDescriptor `json:"files"`
}

func (r *intakeRequest) validate() error {
	for i, f := range r.Files {
		if strings.TrimSpace(f.Name) == "" {
			return NewValidationError(fmt.Sprintf("files[%d].name", i))
		}
		if f.SizeBytes < 0 {
			return NewValidationError(fmt.Sprintf("files[%d].sizeBytes", i))
		}
	}
	return nil
}

type readyResponse struct {
	Ready       bool  `json:"ready"`
	Count       int   `json:"count"`
	TotalBytes  int64 `json:"totalBytes"`
	AllComplete bool  `json:"allComplete"`
}

// detectContentType sniffs the leading bytes of an uploaded part.
func detectContentType(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}
