package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/despensa-ai/despensa/internal/agent"
	"github.com/despensa-ai/despensa/internal/audit"
	"github.com/despensa-ai/despensa/internal/events"
	"github.com/despensa-ai/despensa/internal/fetch"
	"github.com/despensa-ai/despensa/internal/llm"
	"github.com/despensa-ai/despensa/internal/memory"
	"github.com/despensa-ai/despensa/internal/search"
	"github.com/despensa-ai/despensa/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM returns a fixed response or error.
type scriptedLLM struct {
	resp *llm.Response
	err  error
}

func (c *scriptedLLM) Chat(_ context.Context, _ string, _ llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

type testEnv struct {
	store *memory.Store
	bus   *events.Bus
}

// newTestServer serves the full route table over httptest, wired to a
// scripted model and an unreachable search endpoint.
func newTestServer(t *testing.T, client llm.Client) (*httptest.Server, testEnv) {
	t.Helper()
	logger := discardLogger()
	store := memory.NewStore(10)
	bus := events.New()
	sc := search.NewClient("http://unused", logger)
	rec := audit.NewRecorder(t.TempDir(), logger)

	handler := agent.NewHandler(agent.Config{
		Logger:       logger,
		LLM:          client,
		Search:       sc,
		Memory:       store,
		Tools:        tools.NewRegistry(sc, fetch.New(), rec, bus, logger),
		Audit:        rec,
		Bus:          bus,
		DefaultModel: "gpt-4o-mini",
	})

	s := NewServer("", 0, handler, store, bus, logger)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv, testEnv{store: store, bus: bus}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})

	var body map[string]string
	resp := getJSON(t, srv.URL+"/api/v1/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
	if body["version"] == "" || body["uptime"] == "" {
		t.Errorf("missing version/uptime: %v", body)
	}
}

func TestRoot(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["name"] != "Despensa" {
		t.Errorf("name = %v, want Despensa", body["name"])
	}
	if _, ok := body["endpoints"].([]any); !ok {
		t.Errorf("endpoints missing: %v", body)
	}

	// The root pattern must not swallow unknown paths.
	resp = getJSON(t, srv.URL+"/api/v1/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestVersion(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})

	var body map[string]string
	resp := getJSON(t, srv.URL+"/api/v1/version", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["go_version"] == "" {
		t.Errorf("missing go_version: %v", body)
	}
}

func TestStats(t *testing.T) {
	srv, env := newTestServer(t, &scriptedLLM{})
	env.store.AddMessage("t1", "user", "hola")

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/stats", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	mem, ok := body["memory"].(map[string]any)
	if !ok {
		t.Fatalf("memory stats missing: %v", body)
	}
	if mem["threads"] != float64(1) {
		t.Errorf("threads = %v, want 1", mem["threads"])
	}
	if body["goroutines"] == float64(0) {
		t.Errorf("goroutines = %v, want > 0", body["goroutines"])
	}
	if _, ok := body["agent"].(map[string]any); !ok {
		t.Errorf("agent stats missing: %v", body)
	}
}

func TestSendMessageValidation(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad JSON", `{not json`, http.StatusBadRequest},
		{"missing thread_id", `{"message":"hola","stream_url":"http://x"}`, http.StatusBadRequest},
		{"missing message", `{"thread_id":"t1","stream_url":"http://x"}`, http.StatusBadRequest},
		{"missing stream_url", `{"thread_id":"t1","message":"hola"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/send_message", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

type capturedEvent struct {
	ResponseUUID string `json:"response_uuid"`
	Event        string `json:"event"`
	Content      string `json:"content"`
}

func TestSendMessageAccepted(t *testing.T) {
	delivered := make(chan capturedEvent, 16)
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev capturedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode callback: %v", err)
		}
		delivered <- ev
	}))
	defer platform.Close()

	srv, _ := newTestServer(t, &scriptedLLM{})

	body := `{"thread_id":"t1","message":"hola","stream_url":"` + platform.URL + `",` +
		`"variables":[{"name":"OPENAI_API_KEY","value":"sk-test"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/send_message", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var ack map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if ack["status"] != "accepted" || ack["response_uuid"] == "" {
		t.Fatalf("ack = %v", ack)
	}

	// The greeting turn delivers two chunks then the terminal complete.
	var got []capturedEvent
	for {
		select {
		case ev := <-delivered:
			if ev.ResponseUUID != ack["response_uuid"] {
				t.Errorf("event uuid = %q, want %q", ev.ResponseUUID, ack["response_uuid"])
			}
			got = append(got, ev)
			if ev.Event == "complete" || ev.Event == "error" {
				if ev.Event != "complete" {
					t.Fatalf("terminal event = %q, want complete", ev.Event)
				}
				if len(got) != 3 {
					t.Errorf("got %d events before terminal, want 3 total: %v", len(got), got)
				}
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out; events so far: %v", got)
		}
	}
}

func TestSendMessagePreservesResponseID(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer platform.Close()

	srv, _ := newTestServer(t, &scriptedLLM{})

	body := `{"thread_id":"t1","message":"hola","response_uuid":"fixed-id","stream_url":"` + platform.URL + `"}`
	resp, err := http.Post(srv.URL+"/api/v1/send_message", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var ack map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["response_uuid"] != "fixed-id" {
		t.Errorf("response_uuid = %q, want fixed-id", ack["response_uuid"])
	}
}

func TestSendMessageStreamSSE(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{})

	body := `{"thread_id":"t1","message":"hola","variables":[{"name":"OPENAI_API_KEY","value":"sk-test"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/send_message/stream", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(data)

	if got := strings.Count(stream, "event: chunk\n"); got != 2 {
		t.Errorf("chunk events = %d, want 2:\n%s", got, stream)
	}
	if got := strings.Count(stream, "event: complete\n"); got != 1 {
		t.Errorf("complete events = %d, want 1:\n%s", got, stream)
	}
	if strings.Contains(stream, "event: error\n") {
		t.Errorf("unexpected error event:\n%s", stream)
	}

	// The terminal event comes last.
	if !strings.Contains(stream[strings.LastIndex(stream, "event:"):], "complete") {
		t.Errorf("last event is not the terminal:\n%s", stream)
	}
}

func TestSendMessageStreamSSEError(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedLLM{err: io.ErrUnexpectedEOF})

	body := `{"thread_id":"t1","message":"tortilla","variables":[{"name":"OPENAI_API_KEY","value":"sk-test"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/send_message/stream", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(data)

	if got := strings.Count(stream, "event: error\n"); got != 1 {
		t.Errorf("error events = %d, want 1:\n%s", got, stream)
	}
	if strings.Contains(stream, "event: complete\n") {
		t.Errorf("error turn must not complete:\n%s", stream)
	}
	if !strings.Contains(stream, "Error processing message") {
		t.Errorf("error event missing summary:\n%s", stream)
	}
}

func TestThreadHistoryAndClear(t *testing.T) {
	srv, env := newTestServer(t, &scriptedLLM{})
	env.store.AddMessage("t1", "user", "tortilla de patata")
	env.store.AddMessage("t1", "assistant", "🍳 Ingredientes detectados:")

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/v1/threads/t1/history", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/threads/t1", nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", dresp.StatusCode)
	}

	getJSON(t, srv.URL+"/api/v1/threads/t1/history", &body)
	if body["count"] != float64(0) {
		t.Errorf("count after clear = %v, want 0", body["count"])
	}
}

func TestThreadTranscript(t *testing.T) {
	srv, env := newTestServer(t, &scriptedLLM{})
	env.store.AddMessage("t1", "user", "tortilla de patata")
	env.store.AddMessage("t1", "assistant", "**Ingredientes** listos")

	resp, err := http.Get(srv.URL + "/api/v1/threads/t1/transcript")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	md, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q, want text/markdown", ct)
	}
	for _, want := range []string{"# Conversation t1", "## User", "## Assistant", "tortilla de patata"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	resp, err = http.Get(srv.URL + "/api/v1/threads/t1/transcript?format=html")
	if err != nil {
		t.Fatalf("GET html: %v", err)
	}
	html, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	for _, want := range []string{"<h1>Conversation t1</h1>", "<strong>Ingredientes</strong>"} {
		if !strings.Contains(string(html), want) {
			t.Errorf("html missing %q:\n%s", want, html)
		}
	}

	resp, err = http.Get(srv.URL + "/api/v1/threads/t1/transcript?format=pdf")
	if err != nil {
		t.Fatalf("GET pdf: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsWebsocket(t *testing.T) {
	srv, env := newTestServer(t, &scriptedLLM{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	// The handler subscribes after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("events subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.bus.Publish(events.Event{
		Source:   events.SourceAgent,
		Kind:     events.KindTurnReceived,
		ThreadID: "t1",
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if e.Kind != events.KindTurnReceived || e.ThreadID != "t1" {
		t.Errorf("event = %+v", e)
	}
	if e.ID == "" || e.Time.IsZero() {
		t.Errorf("event not stamped: %+v", e)
	}
}
