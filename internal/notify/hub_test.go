package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("user"))
	}))

	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func waitConnections(t *testing.T, hub *Hub, user string, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return hub.Connections(user) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishReachesAllUserConnections(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)

	a1 := dial(t, url, "alice")
	a2 := dial(t, url, "alice")
	b := dial(t, url, "bob")

	waitConnections(t, hub, "alice", 2)
	waitConnections(t, hub, "bob", 1)

	balance := int64(250)
	hub.Publish(t.Context(), Event{Type: CreditUpdate, UserID: "alice", NewBalance: &balance})

	for _, ws := range []*websocket.Conn{a1, a2} {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, CreditUpdate, ev.Type)
		require.NotNil(t, ev.NewBalance)
		assert.Equal(t, int64(250), *ev.NewBalance)
	}

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	_, _, err := b.ReadMessage()
	assert.Error(t, err, "bob must not receive alice's event")
}

func TestHub_StalledClientDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)

	// never reads, so its socket buffers fill and the writer blocks
	_ = dial(t, url, "erin")
	healthy := dial(t, url, "frank")

	waitConnections(t, hub, "erin", 1)
	waitConnections(t, hub, "frank", 1)

	big := strings.Repeat("x", 512<<10)
	start := time.Now()

	for i := range 300 {
		hub.Publish(t.Context(), Event{Type: TaskFailed, UserID: "erin", RequestID: fmt.Sprint(i), Error: big})
	}

	assert.Less(t, time.Since(start), writeWait/2, "publish waited on a stalled client")

	waitConnections(t, hub, "erin", 0)

	hub.Publish(t.Context(), Event{Type: TaskComplete, UserID: "frank", RequestID: "r1"})

	require.NoError(t, healthy.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := healthy.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "r1", ev.RequestID)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)

	ws := dial(t, url, "carol")
	waitConnections(t, hub, "carol", 1)

	require.NoError(t, ws.Close())
	waitConnections(t, hub, "carol", 0)

	// publishing to a user without connections is a no-op
	hub.Publish(t.Context(), Event{Type: TaskComplete, UserID: "carol", RequestID: "r1"})
}

func TestHub_CloseRejectsNewConnections(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)

	ws := dial(t, url, "dave")
	waitConnections(t, hub, "dave", 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Connections("dave"))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := ws.ReadMessage()
	assert.Error(t, err)

	late, _, err := websocket.DefaultDialer.Dial(url+"?user=dave", nil)
	if err == nil {
		defer late.Close()

		require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, _, err = late.ReadMessage()
		assert.Error(t, err, "late connection should be closed by the hub")
	}

	assert.Equal(t, 0, hub.Connections("dave"))
}

func TestFanoutAndNop(t *testing.T) {
	t.Parallel()

	var got []EventType

	rec := sinkFunc(func(ev Event) { got = append(got, ev.Type) })

	Fanout{Nop{}, rec, rec}.Publish(t.Context(), Event{Type: TaskSubmitted})

	assert.Equal(t, []EventType{TaskSubmitted, TaskSubmitted}, got)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	sink.Publish(t.Context(), Event{Type: TaskFailed, UserID: "erin", RequestID: "r1", Error: "boom"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "notification", line["msg"])
	assert.Equal(t, "task_failed", line["type"])
	assert.Equal(t, "erin", line["user_id"])
	assert.Equal(t, "boom", line["error"])
}
