package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/queue"
	"github.com/vm-uploader/backend/internal/submission"
)

func dialFeed(t *testing.T, env *testEnv, sessionID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(env.e)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketFeed(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	id := env.createSession(t)
	conn := dialFeed(t, env, id)

	msg := readUntil(t, conn, MsgTypeConnected)
	assert.Equal(t, id, msg.ID)

	sess, ok := env.sessions.Get(id)
	require.True(t, ok)
	added, err := sess.Queue.Intake([]models.FileDescriptor{{Name: "a.txt", SizeBytes: 10}})
	require.NoError(t, err)

	msg = readUntil(t, conn, string(models.EventIntake))
	assert.Equal(t, added[0].ID, msg.ID)

	msg = readUntil(t, conn, string(models.EventComplete))
	var ev models.QueueEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	require.NotNil(t, ev.File)
	assert.Equal(t, 100, ev.File.Progress)
	assert.Equal(t, models.FileStatusComplete, ev.File.Status)
	assert.Equal(t, id, ev.SessionID)
}

func TestWebSocketPingAndDelete(t *testing.T) {
	env := newTestEnvWithQueue(t, queue.Config{Step: 10, Interval: time.Hour}, submission.Options{})
	id := env.createSession(t)
	conn := dialFeed(t, env, id)
	readUntil(t, conn, MsgTypeConnected)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	readUntil(t, conn, MsgTypePong)

	added := env.intake(t, id, models.FileDescriptor{Name: "a.txt", SizeBytes: 10})
	payload, _ := json.Marshal(DeletePayload{ID: added[0].ID})
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeDelete, Payload: payload}))

	// The feed event and the direct reply may arrive in either order
	seen := map[string]string{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(seen) < 2 {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == string(models.EventDelete) || msg.Type == MsgTypeDeleted {
			seen[msg.Type] = msg.ID
		}
	}
	assert.Equal(t, added[0].ID, seen[string(models.EventDelete)])
	assert.Equal(t, added[0].ID, seen[MsgTypeDeleted])

	sess, _ := env.sessions.Get(id)
	assert.Zero(t, sess.Queue.Len())

	// Deleting again reports an error over the socket
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeDelete, Payload: payload}))
	msg := readUntil(t, conn, MsgTypeError)
	assert.Contains(t, string(msg.Payload), "NOT_FOUND")
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, submission.Options{})
	server := httptest.NewServer(env.e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}
