package livekitclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalURL(t *testing.T) {
	assert.Equal(t, "wss://lk.example.com/rtc?access_token=tok", SignalURL("https://lk.example.com/", "tok"))
	assert.Equal(t, "ws://localhost:7880/rtc?access_token=tok", SignalURL("http://localhost:7880", "tok"))
	assert.Equal(t, "ws://localhost:7880/rtc?access_token=tok", SignalURL("ws://localhost:7880", "tok"))
}

func TestConnect_ReportsRoomEvents(t *testing.T) {
	tokens := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("access_token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","room":{"name":"call-1","metadata":"{\"businessId\":\"biz_1\"}"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"participant_disconnected","participant":{"identity":"agent-session"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"participant_disconnected","participant":{"identity":"caller"}}`))
		// Hold the connection until the client leaves.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	metadata := make(chan string, 1)
	left := make(chan string, 2)
	rc := NewRoomClient(srv.URL, "tok", "call-1", "agent-session", nil, Options{
		OnRoomMetadata:    func(m string) { metadata <- m },
		OnParticipantLeft: func(id string) { left <- id },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rc.Connect(ctx))
	defer rc.Disconnect()

	select {
	case m := <-metadata:
		assert.Equal(t, `{"businessId":"biz_1"}`, m)
	case <-ctx.Done():
		t.Fatal("no room metadata")
	}
	select {
	case id := <-left:
		// The agent's own identity is never reported.
		assert.Equal(t, "caller", id)
	case <-ctx.Done():
		t.Fatal("no participant left event")
	}
	assert.Equal(t, "tok", <-tokens)

	assert.NoError(t, rc.Disconnect())
	assert.NoError(t, rc.Disconnect())
}

func TestConnect_DialFailure(t *testing.T) {
	rc := NewRoomClient("http://127.0.0.1:1", "tok", "room", "id", nil, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, rc.Connect(ctx))
}

func TestPublish_RequiresTrack(t *testing.T) {
	rc := NewRoomClient("http://localhost", "tok", "room", "id", nil, Options{})
	assert.Error(t, rc.Publish([]byte("audio")))
}
