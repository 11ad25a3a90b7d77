package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmverd/switchboard/internal/brain"
	"github.com/jmverd/switchboard/internal/call"
	"github.com/jmverd/switchboard/internal/config"
	"github.com/jmverd/switchboard/internal/history"
	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/policy"
	"github.com/jmverd/switchboard/internal/registry"
	"github.com/jmverd/switchboard/internal/relay"
)

var metricsSeq int64

type testServer struct {
	ts    *httptest.Server
	sink  *history.InMemorySink
	store *call.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		AllowAnyOrigin:    true,
		OutboundQueueSize: 32,
		TriageProvider:    "mock",
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", atomic.AddInt64(&metricsSeq, 1)))
	reg := registry.New()
	store := call.NewStore(time.Minute, 5*time.Minute)
	provider := brain.NewMockProvider()
	sink := history.NewInMemorySink()

	coord := relay.NewCoordinator(reg, store, provider, nil, sink, policy.NewKeywordDecider(nil), metrics, relay.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord.Start(ctx)

	srv := New(cfg, reg, store, coord, sink, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, sink: sink, store: store}
}

func (s *testServer) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilType drains frames until one of the wanted type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("reading frame while waiting for %q: %v", want, err)
		}
		if frame["type"] == want {
			return frame
		}
	}
	t.Fatalf("no %q frame before deadline", want)
	return nil
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode %s response: %v", url, err)
	}
	return res.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]any
	if status := getJSON(t, srv.ts.URL+"/healthz", &health); status != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", status, http.StatusOK)
	}
	if health["status"] != "ok" {
		t.Fatalf("healthz payload = %+v", health)
	}

	var ready map[string]any
	if status := getJSON(t, srv.ts.URL+"/readyz", &ready); status != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", status, http.StatusOK)
	}
	if ready["triage_provider"] != "mock" {
		t.Fatalf("readyz triage_provider = %v, want mock", ready["triage_provider"])
	}
}

func TestCallLifecycleOverWebsocket(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dialWS(t)

	register := map[string]any{
		"type":        "call_register",
		"callId":      "call-ws-1",
		"phoneNumber": "+15550100",
		"deviceId":    "device-ws-1",
		"isIncoming":  true,
	}
	if err := conn.WriteJSON(register); err != nil {
		t.Fatalf("write call_register: %v", err)
	}
	ack := readUntilType(t, conn, "ack")
	if ack["ref"] != "call_register" || ack["callId"] != "call-ws-1" {
		t.Fatalf("register ack = %+v", ack)
	}

	var listed map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/calls", &listed); status != http.StatusOK {
		t.Fatalf("list calls status = %d", status)
	}
	if got := listed["count"].(float64); got != 1 {
		t.Fatalf("active call count = %v, want 1", got)
	}

	var view map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/calls/call-ws-1", &view); status != http.StatusOK {
		t.Fatalf("get call status = %d", status)
	}
	if view["status"] != "ringing" || view["phoneNumber"] != "+15550100" {
		t.Fatalf("call view = %+v", view)
	}
	if _, present := view["transcript"]; present {
		t.Fatalf("call view leaks transcript: %+v", view)
	}

	if err := conn.WriteJSON(map[string]any{"type": "call_status", "callId": "call-ws-1", "status": "answered"}); err != nil {
		t.Fatalf("write call_status: %v", err)
	}
	statusAck := readUntilType(t, conn, "ack")
	if statusAck["ref"] != "call_status" {
		t.Fatalf("status ack = %+v", statusAck)
	}

	var conns map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/connections", &conns); status != http.StatusOK {
		t.Fatalf("list connections status = %d", status)
	}
	if got := conns["count"].(float64); got != 1 {
		t.Fatalf("connection count = %v, want 1", got)
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dialWS(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call_register"}`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	reply := readUntilType(t, conn, "error")
	if reply["code"] != "invalid_client_message" {
		t.Fatalf("error reply = %+v", reply)
	}

	// The connection survives a bad frame.
	if err := conn.WriteJSON(map[string]any{
		"type": "call_register", "callId": "call-2", "phoneNumber": "+15550101", "deviceId": "device-2",
	}); err != nil {
		t.Fatalf("write after bad frame: %v", err)
	}
	readUntilType(t, conn, "ack")
}

func TestGetUnknownCall(t *testing.T) {
	srv := newTestServer(t)

	var payload map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/calls/ghost", &payload); status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if payload["code"] != "call_not_found" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	err := srv.sink.SaveCall(context.Background(), history.Record{
		CallID:          "past-call",
		PhoneNumber:     "+15550199",
		DurationSeconds: 42,
		Summary:         "wrong number",
	})
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}

	var payload map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/history", &payload); status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	if got := payload["count"].(float64); got != 1 {
		t.Fatalf("history count = %v, want 1", got)
	}

	var bad map[string]any
	if status := getJSON(t, srv.ts.URL+"/v1/history?limit=zero", &bad); status != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", status, http.StatusBadRequest)
	}
}
