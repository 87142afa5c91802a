package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/textpilot/textpilot-daemon/internal/auth"
	"github.com/textpilot/textpilot-daemon/internal/connection"
	"github.com/textpilot/textpilot-daemon/internal/dispatcher"
	"github.com/textpilot/textpilot-daemon/internal/engine"
	"github.com/textpilot/textpilot-daemon/internal/engine/loopback"
	"github.com/textpilot/textpilot-daemon/internal/prompt"
	"github.com/textpilot/textpilot-daemon/internal/registry"
	"github.com/textpilot/textpilot-daemon/internal/stream"
)

const testCatalog = `
roles:
  work_email:
    label: Work email
buttons:
  polish:
    label: Polish
    prompts:
      work_email: "Polish: {text}"
`

// blockingEngine never produces events until its channel is closed by the
// test, which keeps a job in flight for as long as an assertion needs it.
type blockingEngine struct {
	events chan engine.Event
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{events: make(chan engine.Event)}
}

func (e *blockingEngine) Stream(ctx context.Context, req engine.Request) (<-chan engine.Event, error) {
	return e.events, nil
}

type testHarness struct {
	srv         *httptest.Server
	dispatcher  *dispatcher.Dispatcher
	connections *connection.Registry
}

func newTestHarness(t *testing.T, eng engine.Engine, maxTextLen int, mutate func(*Config)) *testHarness {
	t.Helper()
	prompts, err := prompt.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	connections := connection.NewRegistry(nil)
	disp := dispatcher.New(dispatcher.Config{
		Connections: connections,
		Coordinator: registry.NewCoordinator(),
		Engine:      eng,
		Prompts:     prompts,
		MaxTextLen:  maxTextLen,
	})
	cfg := Config{
		Dispatcher:   disp,
		Connections:  connections,
		Prompts:      prompts,
		AuthDisabled: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := httptest.NewServer(New(cfg).Router())
	t.Cleanup(srv.Close)
	return &testHarness{srv: srv, dispatcher: disp, connections: connections}
}

// dial opens the user's websocket and blocks until the server side has
// registered the channel, so a following trigger cannot race the connect.
func (h *testHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(5 * time.Second)
	for !h.connections.HasConnection(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("connection for %s never registered", userID)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func (h *testHarness) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readFrame(t *testing.T, conn *websocket.Conn) stream.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var msg stream.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	resp, err := http.Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestProcessRequiresConnection(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	resp := h.postJSON(t, "/api/process", processRequest{
		Text: "hello", ButtonID: "polish", RoleID: "work_email", UserID: "ghost",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestProcessUnknownTemplate(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	h.dial(t, "u1")
	resp := h.postJSON(t, "/api/process", processRequest{
		Text: "hello", ButtonID: "nonsense", RoleID: "work_email", UserID: "u1",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProcessTextTooLarge(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 8, nil)
	h.dial(t, "u1")
	resp := h.postJSON(t, "/api/process", processRequest{
		Text: "way past the eight byte bound", ButtonID: "polish", RoleID: "work_email", UserID: "u1",
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestPromptsEndpoint(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	resp, err := http.Get(h.srv.URL + "/api/prompts")
	if err != nil {
		t.Fatalf("GET /api/prompts: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Buttons []string `json:"buttons"`
		Roles   []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Buttons) != 1 || body.Buttons[0] != "polish" {
		t.Fatalf("buttons = %v, want [polish]", body.Buttons)
	}
	if len(body.Roles) != 1 || body.Roles[0] != "work_email" {
		t.Fatalf("roles = %v, want [work_email]", body.Roles)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, func(cfg *Config) {
		cfg.Verifier = auth.NewVerifier("sekrit")
		cfg.AuthDisabled = false
	})

	resp, err := http.Get(h.srv.URL + "/api/prompts")
	if err != nil {
		t.Fatalf("GET without key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/prompts", nil)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", resp.StatusCode)
	}

	// Health and websocket routes stay open for local probes.
	resp, err = http.Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	resp, err := http.Get(h.srv.URL + "/api/history?userId=u1")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelWithoutActiveJob(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	resp := h.postJSON(t, "/api/cancel", cancelRequest{UserID: "u1", RequestID: "req_missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProcessStreamsOverWebsocket(t *testing.T) {
	h := newTestHarness(t, loopback.New(), 0, nil)
	conn := h.dial(t, "u1")

	resp := h.postJSON(t, "/api/process", processRequest{
		Text: "alpha beta", ButtonID: "polish", RoleID: "work_email", UserID: "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var accepted processResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if accepted.Status != "ok" || !strings.HasPrefix(accepted.RequestID, "req_") {
		t.Fatalf("unexpected acceptance: %+v", accepted)
	}

	msg := readFrame(t, conn)
	if msg.Type != stream.TypeStart || msg.RequestID != accepted.RequestID {
		t.Fatalf("first frame = %+v, want start for %s", msg, accepted.RequestID)
	}

	var content strings.Builder
	seq := 0
	for {
		msg = readFrame(t, conn)
		if msg.Type == stream.TypeDone {
			break
		}
		if msg.Type != stream.TypeChunk {
			t.Fatalf("unexpected frame %+v", msg)
		}
		seq++
		if msg.Seq != seq {
			t.Fatalf("seq = %d, want %d", msg.Seq, seq)
		}
		content.WriteString(msg.Content)
	}
	if got, want := content.String(), "Polish: alpha beta"; got != want {
		t.Fatalf("streamed content = %q, want %q", got, want)
	}
	if msg.RequestID != accepted.RequestID {
		t.Fatalf("done frame request = %s, want %s", msg.RequestID, accepted.RequestID)
	}
}

func TestCancelControlFrameStopsJob(t *testing.T) {
	eng := newBlockingEngine()
	h := newTestHarness(t, eng, 0, nil)
	conn := h.dial(t, "u1")

	resp := h.postJSON(t, "/api/process", processRequest{
		Text: "hello", ButtonID: "polish", RoleID: "work_email", UserID: "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var accepted processResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != stream.TypeStart {
		t.Fatalf("first frame = %+v, want start", msg)
	}

	ctl, _ := json.Marshal(stream.Control{Type: stream.TypeCancel, RequestID: accepted.RequestID})
	if err := conn.WriteMessage(websocket.TextMessage, ctl); err != nil {
		t.Fatalf("write cancel frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.dispatcher.ActiveRequestID("u1") != "" {
		if time.Now().After(deadline) {
			t.Fatal("job never released its slot after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A cancelled job emits no terminal frame: the next frame on the wire
	// must be the start of the follow-up job.
	resp = h.postJSON(t, "/api/process", processRequest{
		Text: "again", ButtonID: "polish", RoleID: "work_email", UserID: "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrigger status = %d, want 200", resp.StatusCode)
	}
	var second processResponse
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode retrigger: %v", err)
	}

	msg = readFrame(t, conn)
	if msg.Type != stream.TypeStart || msg.RequestID != second.RequestID {
		t.Fatalf("frame after cancel = %+v, want start for %s", msg, second.RequestID)
	}
	close(eng.events)
}
