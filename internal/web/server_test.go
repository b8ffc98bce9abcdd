package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenehub/scenehub/internal/config"
	"github.com/scenehub/scenehub/internal/hub"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/scene"
	"github.com/scenehub/scenehub/internal/session"
)

type stubCollector struct{}

func (stubCollector) Current() map[string]interface{} {
	return map[string]interface{}{"cpu_usage_percent": 1.0}
}

func (stubCollector) RecordActivity(event string, activeUsers int) {}

type testServer struct {
	ts       *httptest.Server
	hub      *hub.Hub
	sessions *session.Coordinator
	scene    *scene.Synchronizer
	wsURL    string
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.SyncInterval = time.Hour
	cfg.CleanupInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	sessions := session.NewCoordinator()
	scn := scene.NewSynchronizer(cfg.LockStaleness)
	h := hub.New(cfg, sessions, scn, stubCollector{})
	h.Start()
	t.Cleanup(h.Stop)

	srv := NewServer(cfg, h, sessions)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)

	return &testServer{
		ts:       ts,
		hub:      h,
		sessions: sessions,
		scene:    scn,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// authenticate completes the handshake and consumes the welcome frame.
func authenticate(t *testing.T, conn *websocket.Conn, userID string) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "authenticate",
		"user_id": userID,
	}))
	msg := awaitType(t, conn, protocol.TypeUserConnected)
	return msg
}

// awaitType reads frames until one of the wanted type arrives. Roster and
// housekeeping frames in between are skipped.
func awaitType(t *testing.T, conn *websocket.Conn, typ protocol.Type) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return &msg
		}
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "expected close frame, got %v", err)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func TestHandshakeDeliversWelcomeAndRoster(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":        "authenticate",
		"user_id":     "user-1",
		"username":    "Ada",
		"permissions": []string{"edit"},
	}))

	welcome := awaitType(t, conn, protocol.TypeUserConnected)
	assert.Equal(t, protocol.SenderSystem, welcome.SenderID)
	assert.NotEmpty(t, welcome.Data["connection_id"])
	assert.Equal(t, float64(1), welcome.Data["user_count"])

	roster := awaitType(t, conn, protocol.TypeUserList)
	users := roster.Data["users"].([]interface{})
	require.Len(t, users, 1)
	entry := users[0].(map[string]interface{})
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "Ada", entry["username"])
	assert.Nil(t, entry["current_workflow"])
}

func TestHandshakeRejectsNonAuthFirstFrame(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "chat_message",
		"data": map[string]interface{}{"text": "hi"},
	}))
	expectClose(t, conn, protocol.CloseAuthRequired)
}

func TestHandshakeRejectsMalformedFirstFrame(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	expectClose(t, conn, protocol.CloseAuthRequired)
}

func TestHandshakeRejectsMissingUserID(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "authenticate",
	}))
	expectClose(t, conn, protocol.CloseInvalidUser)
}

func TestHandshakeTimesOut(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.HandshakeTimeout = 50 * time.Millisecond
	})
	conn := dial(t, env.wsURL)

	expectClose(t, conn, protocol.CloseAuthRequired)
}

func TestHandshakeRejectsWhenFull(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxConcurrentUsers = 1
	})

	first := dial(t, env.wsURL)
	authenticate(t, first, "user-1")

	second := dial(t, env.wsURL)
	require.NoError(t, second.WriteJSON(map[string]interface{}{
		"type":    "authenticate",
		"user_id": "user-2",
	}))
	expectClose(t, second, protocol.CloseServerFull)
}

func TestDefaultUsernameDerivedFromUserID(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)
	authenticate(t, conn, "abcdefgh-1234")

	roster := awaitType(t, conn, protocol.TypeUserList)
	entry := roster.Data["users"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "User-abcdefgh", entry["username"])
}

func TestSceneUpdateFlowsBetweenClients(t *testing.T) {
	env := newTestServer(t, nil)

	conn1 := dial(t, env.wsURL)
	authenticate(t, conn1, "user-1")
	conn2 := dial(t, env.wsURL)
	authenticate(t, conn2, "user-2")

	require.NoError(t, conn1.WriteJSON(map[string]interface{}{
		"type": "scene_update",
		"data": map[string]interface{}{
			"object_id":  "cube1",
			"properties": map[string]interface{}{"color": "red"},
		},
	}))

	update := awaitType(t, conn2, protocol.TypeSceneUpdate)
	assert.Equal(t, "user-1", update.SenderID)
	assert.Equal(t, "cube1", update.Data["object_id"])
	state := update.Data["state"].(map[string]interface{})
	assert.Equal(t, "red", state["color"])
}

func TestLockConflictOverTheWire(t *testing.T) {
	env := newTestServer(t, nil)

	conn2 := dial(t, env.wsURL)
	authenticate(t, conn2, "user-2")

	require.True(t, env.scene.AcquireLock("cube1", "user-1"))

	require.NoError(t, conn2.WriteJSON(map[string]interface{}{
		"type": "object_modified",
		"data": map[string]interface{}{
			"object_id":  "cube1",
			"properties": map[string]interface{}{"color": "blue"},
		},
	}))

	errMsg := awaitType(t, conn2, protocol.TypeErrorNotification)
	assert.Equal(t, "object_locked", errMsg.Data["reason"])
	assert.Equal(t, "user-1", errMsg.Data["held_by"])
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)
	authenticate(t, conn, "user-1")

	huge := bytes.Repeat([]byte("x"), protocol.MaxFrameSize+1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, huge))
	expectClose(t, conn, websocket.CloseMessageTooBig)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)
	authenticate(t, conn, "user-1")

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, float64(1), body["users"])
}

func TestUsersEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)
	authenticate(t, conn, "user-1")

	resp, err := http.Get(env.ts.URL + "/api/v1/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Users []map[string]interface{} `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Users, 1)
	assert.Equal(t, "user-1", body.Users[0]["user_id"])
	assert.Contains(t, body.Users[0], "last_activity")
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	id := env.sessions.Create("w1", "user-1")

	resp, err := http.Get(env.ts.URL + "/api/v1/sessions/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "w1", snap.WorkflowID)
	assert.Equal(t, session.StatusPending, snap.Status)

	missing, err := http.Get(env.ts.URL + "/api/v1/sessions/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestEventIngestBroadcastsAndRecordsProgress(t *testing.T) {
	env := newTestServer(t, nil)
	conn := dial(t, env.wsURL)
	authenticate(t, conn, "user-1")

	id := env.sessions.Create("w1", "user-1")
	event, err := json.Marshal(map[string]interface{}{
		"type": "workflow_progress",
		"data": map[string]interface{}{
			"session_id":   id,
			"workflow_id":  "w1",
			"current_step": 5,
			"total_steps":  10,
			"progress":     0.5,
			"status":       "running",
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(env.ts.URL+"/api/v1/events", "application/json", bytes.NewReader(event))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	progress := awaitType(t, conn, protocol.TypeWorkflowProgress)
	assert.Equal(t, 0.5, progress.Data["progress"])
	assert.Equal(t, id, progress.Data["session_id"])

	snap, ok := env.sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, 5, snap.CurrentStep)
	assert.Equal(t, 10, snap.TotalSteps)
	assert.Equal(t, 0.5, snap.Progress)
	assert.Equal(t, session.StatusRunning, snap.Status)
}

func TestEventIngestRejectsClientTypes(t *testing.T) {
	env := newTestServer(t, nil)

	for _, typ := range []string{"chat_message", "scene_update", "authenticate", "bogus"} {
		event, err := json.Marshal(map[string]interface{}{
			"type": typ,
			"data": map[string]interface{}{},
		})
		require.NoError(t, err)

		resp, err := http.Post(env.ts.URL+"/api/v1/events", "application/json", bytes.NewReader(event))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "type %s must be rejected", typ)
	}
}
