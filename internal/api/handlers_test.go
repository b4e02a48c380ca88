package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/queue"
	"github.com/vm-uploader/backend/internal/session"
	"github.com/vm-uploader/backend/internal/submission"
	"github.com/vm-uploader/backend/internal/testutil"
	"github.com/vmihailenco/msgpack/v5"
)

type testEnv struct {
	e        *echo.Echo
	sessions *session.Manager
	notifier *testutil.RecordingNotifier
}

func newTestEnv(t *testing.T, opts submission.Options) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, queue.Config{Step: 50, Interval: 5 * time.Millisecond}, opts)
}

func newTestEnvWithQueue(t *testing.T, qcfg queue.Config, opts submission.Options) *testEnv {
	t.Helper()
	logger := log.New(bytes.NewBuffer(nil))
	notifier := testutil.NewRecordingNotifier()
	sessions := session.NewManager(session.Config{
		Queue:      qcfg,
		Submission: opts,
	}, notifier, logger)
	t.Cleanup(sessions.CloseAll)

	e := echo.New()
	SetupMiddleware(e, MiddlewareOptions{})
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Sessions: sessions,
		Version:  "test",
		Logger:   logger,
	}))
	return &testEnv{e: e, sessions: sessions, notifier: notifier}
}

func (env *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var info models.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)
	return info.ID
}

func (env *testEnv) intake(t *testing.T, sessionID string, files ...models.FileDescriptor) []models.QueuedFile {
	t.Helper()
	rec := env.do(http.MethodPost, "/api/sessions/"+sessionID+"/files", map[string]interface{}{"files": files})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added []models.QueuedFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	return added
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	env.createSession(t)

	rec := env.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"sessions":1`)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	rec := env.do(http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dialog":"closed"`)

	rec = env.do(http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = env.do(http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/files", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = env.do(http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntakeAndList(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	added := env.intake(t, id,
		models.FileDescriptor{Name: "a.txt", SizeBytes: 1024},
		models.FileDescriptor{Name: "b.bin", SizeBytes: 2048},
	)
	require.Len(t, added, 2)
	assert.NotEqual(t, added[0].ID, added[1].ID)
	assert.Equal(t, 0, added[0].Progress)
	assert.Equal(t, "1 KB", added[0].FormattedSize)

	rec := env.do(http.MethodGet, "/api/sessions/"+id+"/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var files []models.QueuedFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "b.bin", files[1].Name)

	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/files/"+added[1].ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"b.bin"`)

	// Empty batch is accepted and changes nothing
	assert.Empty(t, env.intake(t, id))
	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/ready", nil)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestIntakeValidation(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	tests := []struct {
		name  string
		files []models.FileDescriptor
	}{
		{"empty name", []models.FileDescriptor{{Name: "  ", SizeBytes: 1}}},
		{"negative size", []models.FileDescriptor{{Name: "a.txt", SizeBytes: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/sessions/"+id+"/files", map[string]interface{}{"files": tt.files})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		})
	}

	rec := env.do(http.MethodGet, "/api/sessions/"+id+"/files", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUploadMultipart(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("files", "notes.txt")
	part.Write([]byte("hello world\n"))
	part, _ = writer.CreateFormFile("files", "notes.txt")
	part.Write([]byte("second copy\n"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/files/upload", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var added []models.QueuedFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.Len(t, added, 2)
	assert.Equal(t, "notes.txt", added[0].Name)
	assert.Equal(t, int64(12), added[0].SizeBytes)
	assert.Contains(t, added[0].ContentType, "text/plain")
	assert.NotEqual(t, added[0].ID, added[1].ID)
}

func TestUploadMultipartNoFiles(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	writer.WriteField("note", "nothing attached")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/files/upload", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	added := env.intake(t, id,
		models.FileDescriptor{Name: "a.txt", SizeBytes: 10},
		models.FileDescriptor{Name: "b.txt", SizeBytes: 20},
		models.FileDescriptor{Name: "c.txt", SizeBytes: 30},
	)

	rec := env.do(http.MethodDelete, "/api/sessions/"+id+"/files/"+added[1].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/sessions/"+id+"/files/"+added[1].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/files", nil)
	var files []models.QueuedFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "c.txt", files[1].Name)
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)

	var ready readyResponse
	rec := env.do(http.MethodGet, "/api/sessions/"+id+"/ready", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.False(t, ready.Ready)
	assert.False(t, ready.AllComplete)

	env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 100})
	require.Eventually(t, func() bool {
		rec := env.do(http.MethodGet, "/api/sessions/"+id+"/ready", nil)
		var r readyResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &r)
		return r.AllComplete
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/ready", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, 1, ready.Count)
	assert.Equal(t, int64(100), ready.TotalBytes)
}

func TestListFilesMsgpack(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 1536})

	rec := env.do(http.MethodGet, "/api/sessions/"+id+"/files/msgpack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var decoded struct {
		Files []models.QueuedFile `msgpack:"files"`
		Count int                 `msgpack:"count"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Count)
	require.Len(t, decoded.Files, 1)
	assert.Equal(t, "a.txt", decoded.Files[0].Name)
	assert.Equal(t, "1.5 KB", decoded.Files[0].FormattedSize)
}

func TestSubmitScenario(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	added := env.intake(t, id,
		models.FileDescriptor{Name: "a.txt", SizeBytes: 1024},
		models.FileDescriptor{Name: "b.bin", SizeBytes: 2048},
	)

	rec := env.do(http.MethodDelete, "/api/sessions/"+id+"/files/"+added[0].ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodPost, "/api/sessions/"+id+"/dialog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	rec = env.do(http.MethodPost, "/api/sessions/"+id+"/submit", map[string]string{"contact": "x@y.com"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	events := env.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "x@y.com", events[0].Contact)
	require.Len(t, events[0].Files, 1)
	assert.Equal(t, "b.bin", events[0].Files[0].Name)

	rec = env.do(http.MethodGet, "/api/sessions/"+id, nil)
	assert.Contains(t, rec.Body.String(), `"dialog":"closed"`)

	rec = env.do(http.MethodGet, "/api/sessions/"+id+"/submissions", nil)
	var history []models.SubmissionEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, events[0].ID, history[0].ID)
}

func TestSubmitErrors(t *testing.T) {
	// The simulator never ticks, so every file stays pending
	env := newTestEnvWithQueue(t, queue.Config{Step: 10, Interval: time.Hour}, submission.Options{RequireComplete: true})
	id := env.createSession(t)

	rec := env.do(http.MethodPost, "/api/sessions/"+id+"/submit", map[string]string{"contact": "x@y.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMPTY_QUEUE", decodeError(t, rec).Code)

	rec = env.do(http.MethodPost, "/api/sessions/"+id+"/dialog", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMPTY_QUEUE", decodeError(t, rec).Code)

	env.intake(t, id, models.FileDescriptor{Name: "big.iso", SizeBytes: 1 << 30})
	rec = env.do(http.MethodPost, "/api/sessions/"+id+"/submit", map[string]string{"contact": "x@y.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UPLOADS_PENDING", decodeError(t, rec).Code)
	assert.Zero(t, env.notifier.Count())
}

func TestSubmitInvalidContact(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 1})

	for _, contact := range []string{"", "analyst", "not an email@"} {
		rec := env.do(http.MethodPost, "/api/sessions/"+id+"/submit", map[string]string{"contact": contact})
		assert.Equal(t, http.StatusBadRequest, rec.Code, contact)
		assert.Equal(t, "INVALID_CONTACT", decodeError(t, rec).Code)
	}
	assert.Zero(t, env.notifier.Count())
}

func TestSubmitAppendsContactDomain(t *testing.T) {
	env := newTestEnv(t, submission.Options{ContactDomain: "gmail.com", TargetVM: "gHcz49TuM10"})
	id := env.createSession(t)
	env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 1})

	rec := env.do(http.MethodPost, "/api/sessions/"+id+"/submit", map[string]string{"contact": " analyst "})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var ev models.SubmissionEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "analyst@gmail.com", ev.Contact)
	assert.Equal(t, "gHcz49TuM10", ev.TargetVM)
}

func TestCloseDialog(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 1})

	rec := env.do(http.MethodPost, "/api/sessions/"+id+"/dialog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodDelete, "/api/sessions/"+id+"/dialog", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)
	assert.Zero(t, env.notifier.Count())
}

func TestHandlerReturnsAPIError(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	h := NewQueueHandler(env.sessions)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/files", nil)
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	c.SetParamNames("sessionId")
	c.SetParamValues("missing")

	err := h.HandleListFiles(c)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestFromDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{submission.ErrEmptyQueue, http.StatusConflict, "EMPTY_QUEUE"},
		{submission.ErrUploadsPending, http.StatusConflict, "UPLOADS_PENDING"},
		{submission.ErrInvalidContact, http.StatusBadRequest, "INVALID_CONTACT"},
		{queue.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{queue.ErrClosed, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{session.ErrTooManySessions, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := FromDomainError(tt.err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}
