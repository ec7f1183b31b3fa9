package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/echolab/live-gateway/internal/config"
	"github.com/echolab/live-gateway/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoEndpoint upgrades, records the auth header, and echoes every message.
func echoEndpoint(t *testing.T, authHeader *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authHeader != nil {
			*authHeader = r.Header.Get("Authorization")
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, payload); err != nil {
				return
			}
		}
	}
}

func testClient(serverURL string) *Client {
	cfg := &config.Config{
		UpstreamURL:     "ws" + strings.TrimPrefix(serverURL, "http"),
		UpstreamAPIKey:  "test-key",
		DialMaxAttempts: 1,
		DialBackoffMs:   1,
	}
	return NewClient(cfg, zerolog.Nop())
}

func expectEvent(t *testing.T, events <-chan session.Event, want session.EventType) session.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("Events channel closed while waiting for event type %d", want)
		}
		if ev.Type != want {
			t.Fatalf("Expected event type %d, got %d (err: %v)", want, ev.Type, ev.Err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for event type %d", want)
	}
	return session.Event{}
}

func TestClient_DialAndEcho(t *testing.T) {
	var authHeader string
	server := httptest.NewServer(echoEndpoint(t, &authHeader))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	expectEvent(t, client.Events(), session.EventOpen)

	if authHeader != "Bearer test-key" {
		t.Errorf("Expected Authorization 'Bearer test-key', got '%s'", authHeader)
	}

	if err := client.Send([]byte(`{"media":{"data":"AAAA"}}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev := expectEvent(t, client.Events(), session.EventMessage)
	if string(ev.Payload) != `{"media":{"data":"AAAA"}}` {
		t.Errorf("Unexpected echoed payload: %s", ev.Payload)
	}
}

func TestClient_CloseEmitsClosed(t *testing.T) {
	server := httptest.NewServer(echoEndpoint(t, nil))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	expectEvent(t, client.Events(), session.EventOpen)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	expectEvent(t, client.Events(), session.EventClosed)

	// Channel closes after the terminal event
	select {
	case _, ok := <-client.Events():
		if ok {
			t.Error("Expected events channel closed after EventClosed")
		}
	case <-time.After(2 * time.Second):
		t.Error("Events channel not closed after EventClosed")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	server := httptest.NewServer(echoEndpoint(t, nil))
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	expectEvent(t, client.Events(), session.EventOpen)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestClient_ServerDropEmitsError(t *testing.T) {
	server := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			// Drop the TCP connection without a close handshake
			conn.UnderlyingConn().Close()
		}
	}())
	defer server.Close()

	client := testClient(server.URL)
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()
	expectEvent(t, client.Events(), session.EventOpen)

	ev := expectEvent(t, client.Events(), session.EventError)
	if ev.Err == nil {
		t.Error("Expected error on abnormal drop")
	}
}

func TestClient_DialFailure(t *testing.T) {
	client := testClient("http://127.0.0.1:1") // nothing listening
	if err := client.Dial(context.Background()); err == nil {
		t.Fatal("Expected dial failure")
	}
}

func TestClient_SendBeforeDial(t *testing.T) {
	client := testClient("http://127.0.0.1:1")
	if err := client.Send([]byte("frame")); err == nil {
		t.Error("Expected error sending before dial")
	}
}
