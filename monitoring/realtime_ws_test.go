package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*WebSocketHub, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	hub := NewWebSocketHub(zap.NewNop(), []string{"*"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	return hub, cancel, done
}

func TestHubFanOutAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, cancel, done := startHub(t)

	all := &Client{send: make(chan []byte, 4), clientID: "all", subscriptions: map[MessageType]bool{}}
	modelOnly := &Client{send: make(chan []byte, 4), clientID: "model", subscriptions: map[MessageType]bool{ModelEvent: true}}
	hub.addClient(all)
	hub.addClient(modelOnly)
	require.Equal(t, 2, hub.ClientCount())

	require.NoError(t, hub.Publish(PredictionEvent, map[string]float64{"price": 42000}))

	select {
	case payload := <-all.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, PredictionEvent, msg.Type)
		assert.JSONEq(t, `{"price":42000}`, string(msg.Data))
		assert.NotEmpty(t, msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected broadcast to reach unfiltered client")
	}

	require.NoError(t, hub.Publish(ModelEvent, map[string]bool{"loaded": true}))
	select {
	case payload := <-modelOnly.send:
		assert.Contains(t, string(payload), `"type":"model"`)
	case <-time.After(2 * time.Second):
		t.Fatal("expected model event to reach subscribed client")
	}
	assert.Len(t, modelOnly.send, 0, "prediction event should have been filtered")

	cancel()
	<-done
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-all.send
	assert.False(t, open, "send channel should be closed on shutdown")
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub, cancel, done := startHub(t)
	defer func() {
		cancel()
		<-done
	}()

	slow := &Client{send: make(chan []byte), clientID: "slow", subscriptions: map[MessageType]bool{}}
	hub.addClient(slow)
	require.NoError(t, hub.Publish(PredictionEvent, 1))

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket(t *testing.T) {
	hub, cancel, done := startHub(t)
	defer func() {
		cancel()
		<-done
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Topic: PredictionEvent}))
	require.NoError(t, hub.Publish(PredictionEvent, map[string]int{"year": 2019}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, PredictionEvent, msg.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ok.example"})
	req := httptest.NewRequest("GET", "/api/ws", nil)
	assert.True(t, check(req), "no origin header is allowed")
	req.Header.Set("Origin", "https://ok.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
