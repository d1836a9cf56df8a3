package wsevents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/providers"
)

func TestClientForwardsEventsInOrder(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("unexpected token query: %q", r.URL.RawQuery)
		}
		for _, frame := range []string{"started", "garbage", "one", "two", "ended"} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	req := startRequest("tok")
	req.Attempt = 7
	if err := client.Start(context.Background(), req); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got := collect(t, client.Events(), 4)
	if got[0].Kind != domain.VendorEventSessionStarted {
		t.Fatalf("expected session started first, got %+v", got[0])
	}
	for _, event := range got {
		if event.Attempt != 7 {
			t.Fatalf("expected events tagged with the start attempt, got %+v", event)
		}
	}
	if got[1].Transcript.Entries[0].Text != "one" || got[2].Transcript.Entries[0].Text != "two" {
		t.Fatalf("unexpected transcript order: %+v %+v", got[1], got[2])
	}
	if got[3].Kind != domain.VendorEventSessionEnded {
		t.Fatalf("expected session ended, got %+v", got[3])
	}
	expectNoEvent(t, client.Events())
}

func TestClientNormalCloseEndsSession(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("started"))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got := collect(t, client.Events(), 2)
	if got[1].Kind != domain.VendorEventSessionEnded {
		t.Fatalf("expected remote close to end the session, got %+v", got[1])
	}
}

func TestClientAbnormalCloseReportsError(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("started"))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "agent crashed"))
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got := collect(t, client.Events(), 2)
	if got[1].Kind != domain.VendorEventError || got[1].Detail != "agent crashed" {
		t.Fatalf("expected error event, got %+v", got[1])
	}
}

func TestClientDroppedConnectionReportsError(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.UnderlyingConn().Close()
	})

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got := collect(t, client.Events(), 1)
	if got[0].Kind != domain.VendorEventError || got[0].Detail != "connection lost" {
		t.Fatalf("expected connection lost, got %+v", got[0])
	}
}

func TestClientStopSuppressesLaterEvents(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("started"))
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte("late"))
		waitClosed(conn)
	})
	t.Cleanup(func() { closeOnce(release) })

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	collect(t, client.Events(), 1)

	if err := client.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	closeOnce(release)
	expectNoEvent(t, client.Events())

	if err := client.Stop(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("restart after stop failed: %v", err)
	}
	got := collect(t, client.Events(), 1)
	if got[0].Kind != domain.VendorEventSessionStarted {
		t.Fatalf("expected new session to start, got %+v", got[0])
	}
}

func TestClientStopDropsQueuedEvents(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, r *http.Request) {
		frames := []string{"started"}
		if r.URL.Query().Get("token") == "first" {
			frames = []string{"started", "q1", "q2", "q3"}
		}
		for _, frame := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	first := startRequest("first")
	first.Attempt = 1
	if err := client.Start(context.Background(), first); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Nobody reads, so the first connection's events pile up in the queue.
	time.Sleep(100 * time.Millisecond)

	if err := client.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	second := startRequest("second")
	second.Attempt = 2
	if err := client.Start(context.Background(), second); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	got := collect(t, client.Events(), 1)
	if got[0].Kind != domain.VendorEventSessionStarted || got[0].Attempt != 2 {
		t.Fatalf("expected only the second connection's start, got %+v", got[0])
	}
	expectNoEvent(t, client.Events())
}

func TestClientRejectsConcurrentSession(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := client.Start(context.Background(), startRequest("tok")); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestClientStartReportsHandshakeStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	err := client.Start(context.Background(), startRequest("tok"))
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("expected handshake status in error, got %v", err)
	}
}

func TestClientStartHonorsContext(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Start(ctx, startRequest("tok")); err == nil {
		t.Fatalf("expected canceled dial to fail")
	}
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("expected a later start to succeed, got %v", err)
	}
}

func TestClientCloseClosesEvents(t *testing.T) {
	t.Parallel()

	server := newEventServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < eventBuffer*2; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("chatter")); err != nil {
				return
			}
		}
		waitClosed(conn)
	})

	client := newTestClient(t, server.URL)
	if err := client.Start(context.Background(), startRequest("tok")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = client.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close blocked on an undrained event channel")
	}

	for range client.Events() {
	}
	if err := client.Start(context.Background(), startRequest("tok")); err == nil {
		t.Fatalf("expected start after close to fail")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestProviderRequiresProtocol(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(nil, Config{}, zerolog.Nop()).NewClient(context.Background()); err == nil {
		t.Fatalf("expected missing protocol error")
	}
}

type lineProtocol struct{}

func (lineProtocol) Name() string { return "test" }

func (lineProtocol) DialURL(base string, req domain.StartRequest) (string, http.Header, error) {
	return providers.WebSocketURL(base) + "/events?token=" + req.Credential.Token, nil, nil
}

func (lineProtocol) Decode(payload []byte) ([]domain.VendorEvent, error) {
	switch text := string(payload); text {
	case "started":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionStarted}}, nil
	case "ended":
		return []domain.VendorEvent{{Kind: domain.VendorEventSessionEnded}}, nil
	case "garbage":
		return nil, errors.New("not an event")
	default:
		return []domain.VendorEvent{{
			Kind: domain.VendorEventTranscript,
			Transcript: &domain.TranscriptUpdate{
				Kind:    domain.TranscriptKindFinal,
				Entries: []domain.TranscriptEntry{{Role: domain.RoleAgent, Text: text}},
			},
		}}, nil
	}
}

func newEventServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	vendorClient, err := NewProvider(lineProtocol{}, Config{EventsURL: baseURL}, zerolog.Nop()).NewClient(context.Background())
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	client := vendorClient.(*Client)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startRequest(token string) domain.StartRequest {
	return domain.StartRequest{Credential: domain.Credential{Token: token}, Mode: "english", SampleRate: 24000}
}

// waitClosed blocks until the peer goes away.
func waitClosed(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func collect(t *testing.T, events <-chan domain.VendorEvent, n int) []domain.VendorEvent {
	t.Helper()

	out := make([]domain.VendorEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %d events", len(out))
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func expectNoEvent(t *testing.T, events <-chan domain.VendorEvent) {
	t.Helper()

	select {
	case event, ok := <-events:
		if ok {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
