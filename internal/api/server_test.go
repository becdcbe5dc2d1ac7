package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/austin-relay/internal/austin"
	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
	"github.com/nerrad567/austin-relay/internal/infrastructure/database"
	"github.com/nerrad567/austin-relay/internal/infrastructure/logging"
	"github.com/nerrad567/austin-relay/internal/relay"
	"github.com/nerrad567/austin-relay/internal/runs"
	"github.com/nerrad567/austin-relay/migrations"
)

// fakeRelay is a RelayController with a settable status.
type fakeRelay struct {
	mu      sync.Mutex
	status  relay.Status
	stopped int
}

func (f *fakeRelay) Status() relay.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRelay) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server backed by a migrated SQLite database in a
// temp dir and a running hub.
func testServer(t *testing.T) (*Server, *fakeRelay, *runs.SQLiteRepository) {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	repo := runs.NewSQLiteRepository(db.DB)

	log := testLogger()
	hub := NewHub(testWSConfig(), log)
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	rel := &fakeRelay{status: relay.Status{State: austin.StateNotStarted}}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      testWSConfig(),
		Logger:  log,
		Relay:   rel,
		Runs:    repo,
		DB:      db,
		Hub:     hub,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, rel, repo
}

func serve(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Relay: &fakeRelay{}, Runs: &runs.SQLiteRepository{}}},
		{"no relay", Deps{Logger: testLogger(), Runs: &runs.SQLiteRepository{}}},
		{"no runs", Deps{Logger: testLogger(), Relay: &fakeRelay{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)

	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", resp.Checks["database"])
	}
}

func TestHealth_DegradedDatabase(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.db.Close()

	w := serve(t, srv, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, w, &resp)

	if resp.Status != "degraded" || resp.Checks["database"] == "ok" {
		t.Errorf("health = %+v, want degraded database", resp)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"https://ops.example"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecoverPanic(t *testing.T) {
	srv, _, _ := testServer(t)

	h := requestID(srv.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeInternal || e.RequestID == "" {
		t.Errorf("error = %+v", e)
	}
}

func TestRecoverPanic_AbortHandlerPropagates(t *testing.T) {
	srv, _, _ := testServer(t)

	h := srv.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Relay Endpoint Tests ──────────────────────────────────────────

func TestStatus(t *testing.T) {
	srv, rel, _ := testServer(t)
	rel.status = relay.Status{
		Active:     true,
		State:      austin.StateRunning,
		RunID:      "run-1",
		SamplerPID: 4242,
		TargetPID:  4243,
		Samples:    17,
	}

	w := serve(t, srv, http.MethodGet, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	var got relay.Status
	decode(t, w, &got)
	if got.RunID != "run-1" || got.State != austin.StateRunning || got.Samples != 17 || got.TargetPID != 4243 {
		t.Errorf("status = %+v", got)
	}
}

func TestStopRun(t *testing.T) {
	srv, rel, _ := testServer(t)

	// Nothing to stop.
	w := serve(t, srv, http.MethodPost, "/api/v1/runs/current/stop")
	if w.Code != http.StatusConflict {
		t.Errorf("idle stop status = %d, want %d", w.Code, http.StatusConflict)
	}
	if rel.stopped != 0 {
		t.Errorf("Stop called %d times while idle", rel.stopped)
	}

	rel.status = relay.Status{Active: true, RunID: "run-1"}
	w = serve(t, srv, http.MethodPost, "/api/v1/runs/current/stop")
	if w.Code != http.StatusAccepted {
		t.Errorf("stop status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if rel.stopped != 1 {
		t.Errorf("Stop called %d times, want 1", rel.stopped)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["run_id"] != "run-1" {
		t.Errorf("run_id = %q, want run-1", resp["run_id"])
	}
}

func TestMetrics(t *testing.T) {
	srv, rel, _ := testServer(t)
	rel.status = relay.Status{Active: true, State: austin.StateRunning, Samples: 3, Restarts: 1}

	w := serve(t, srv, http.MethodGet, "/api/v1/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}

	var m Metrics
	decode(t, w, &m)
	if m.Version != "test" || m.Go.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if runtime.GOOS == "linux" && (m.Processes.Relay == nil || m.Processes.Relay.PID != os.Getpid()) {
		t.Errorf("relay process = %+v, want this test process", m.Processes.Relay)
	}
	if m.Processes.Sampler != nil || m.Processes.Target != nil {
		t.Errorf("sampler/target snapshots without PIDs: %+v", m.Processes)
	}
	if !m.Relay.Active || m.Relay.Samples != 3 || m.Relay.Restarts != 1 {
		t.Errorf("relay metrics = %+v", m.Relay)
	}
	if m.MQTT != nil || m.InfluxDB != nil {
		t.Errorf("sink metrics without clients: mqtt=%v influxdb=%v", m.MQTT, m.InfluxDB)
	}
	if m.Database == nil || m.Database.JournalMode != "wal" || m.Database.SizeBytes == 0 {
		t.Errorf("database metrics = %+v, want wal journal and non-zero size", m.Database)
	}
}

// ─── Run History Tests ─────────────────────────────────────────────

func seedRuns(t *testing.T, repo *runs.SQLiteRepository, n int) {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := range n {
		err := repo.Create(context.Background(), &runs.Run{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Args:      []string{"-i", "100", "python3", "app.py"},
		})
		if err != nil {
			t.Fatalf("Create(run-%d) error = %v", i, err)
		}
	}
}

func TestListRuns(t *testing.T) {
	srv, _, repo := testServer(t)
	seedRuns(t, repo, 3)

	w := serve(t, srv, http.MethodGet, "/api/v1/runs?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}

	var resp struct {
		Runs  []runs.Run `json:"runs"`
		Count int        `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 2 || len(resp.Runs) != 2 {
		t.Fatalf("count = %d, runs = %d, want 2", resp.Count, len(resp.Runs))
	}
	if resp.Runs[0].ID != "run-2" {
		t.Errorf("first run = %q, want newest run-2", resp.Runs[0].ID)
	}
}

func TestListRuns_Empty(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}
}

func TestListRuns_BadLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	for _, limit := range []string{"abc", "0", "-1", "100000"} {
		w := serve(t, srv, http.MethodGet, "/api/v1/runs?limit="+limit)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want %d", limit, w.Code, http.StatusBadRequest)
		}
	}
}

func TestGetRun(t *testing.T) {
	srv, _, repo := testServer(t)
	seedRuns(t, repo, 1)

	w := serve(t, srv, http.MethodGet, "/api/v1/runs/run-0")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}

	var run runs.Run
	decode(t, w, &run)
	if run.ID != "run-0" || run.Outcome != runs.OutcomeRunning {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/runs/missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", e.Code, ErrCodeNotFound)
	}
	if e.RequestID == "" || e.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %q, want the X-Request-ID header %q", e.RequestID, w.Header().Get("X-Request-ID"))
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, wsSendBufferSize),
		channels: map[string]struct{}{relay.ChannelSamples: {}},
	}
	hub.Register(client)

	hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-1", Line: "main;f 1"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != relay.ChannelSamples {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, relay.ChannelSamples)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, wsSendBufferSize),
		channels: map[string]struct{}{relay.ChannelLifecycle: {}},
	}
	hub.Register(client)

	hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-1", Line: "main;f 1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close

	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_RunFilter(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, wsSendBufferSize),
		channels: map[string]struct{}{relay.ChannelSamples: {}},
		runID:    "run-2",
	}
	hub.Register(client)

	hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-1", Line: "main;f 1"})
	hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-2", Line: "main;g 2"})

	if n := len(client.send); n != 1 {
		t.Fatalf("queued messages = %d, want 1", n)
	}
	var msg struct {
		Payload relay.SampleEvent `json:"payload"`
	}
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Payload.RunID != "run-2" || msg.Payload.Line != "main;g 2" {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestHub_DropsForSlowClient(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	client := &WSClient{
		hub:      hub,
		send:     make(chan []byte, 2),
		channels: map[string]struct{}{relay.ChannelSamples: {}},
	}
	hub.Register(client)

	for range 5 {
		hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-1", Line: "main;f 1"})
	}

	if got := hub.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}

	// A closed queue is not a drop.
	hub.Unregister(client)
	hub.Broadcast(relay.ChannelSamples, relay.SampleEvent{RunID: "run-1", Line: "main;f 1"})
	if got := hub.Dropped(); got != 3 {
		t.Errorf("Dropped() after unregister = %d, want 3", got)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}

	// Port 0 in the test config: the listener is bound before Start returns.
	url := "http://" + srv.Addr() + "/api/v1/health"
	resp, err := http.Get(url) //nolint:noctx // Test request
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(url); err == nil { //nolint:noctx,bodyclose // Expected to fail
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	srv, _, _ := testServer(t)
	srv.cfg.Port = busy.Addr().(*net.TCPAddr).Port

	if err := srv.Start(context.Background()); err == nil {
		srv.Close() //nolint:errcheck // Unexpected success
		t.Fatal("Start() on a busy port = nil, want error")
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after failed Start = nil, want error")
	}
}

func TestServer_CloseNotStarted(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

// connectWebSocket serves srv through httptest and dials its WebSocket.
func connectWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) WSMessage {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	return resp
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	srv, _, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	resp := subscribe(t, ws, relay.ChannelLifecycle, relay.ChannelSamples)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	srv.hub.Broadcast(relay.ChannelLifecycle, relay.Event{Event: relay.EventReady, RunID: "run-1", SamplerPID: 7})

	var msg struct {
		Type      string      `json:"type"`
		EventType string      `json:"event_type"`
		Payload   relay.Event `json:"payload"`
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != relay.ChannelLifecycle {
		t.Errorf("broadcast = %+v", msg)
	}
	if msg.Payload.Event != relay.EventReady || msg.Payload.RunID != "run-1" || msg.Payload.SamplerPID != 7 {
		t.Errorf("payload = %+v", msg.Payload)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv, _, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	subscribe(t, ws, relay.ChannelSamples)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{relay.ChannelSamples}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	srv, _, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	resp := subscribe(t, ws, relay.ChannelSamples, "device.state_changed")
	if resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _, _ := testServer(t)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", "not json"},
		{"unknown type", `{"type":"unknown_type","id":"x"}`},
		{"subscribe without payload", `{"type":"subscribe","id":"x"}`},
		{"subscribe with bad payload", `{"type":"subscribe","id":"x","payload":"run.samples"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := testServer(t)
			ws := connectWebSocket(t, srv)

			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.data)); err != nil {
				t.Fatalf("write message: %v", err)
			}

			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("read error response: %v", err)
			}
			if resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}
