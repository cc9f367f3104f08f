package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/colourlab-core/internal/archive"
	"github.com/nerrad567/colourlab-core/internal/audit"
	"github.com/nerrad567/colourlab-core/internal/auth"
	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/experiment"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/colourlab-core/internal/lab"
	"github.com/nerrad567/colourlab-core/internal/scheduler"
	"github.com/nerrad567/colourlab-core/internal/strategy"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer builds a Server over a real scheduler driving a VirtualLab.
// iterationDelay slows runs down for cancellation tests.
func testServer(t *testing.T, iterationDelay time.Duration, modify func(*Deps)) *Server {
	t.Helper()

	registry := strategy.NewRegistry()
	registry.Register(strategy.KindSurrogate, strategy.NewSurrogate)
	registry.Register(strategy.KindAdvisory, strategy.NewAdvisoryFactory(nil))

	sched := scheduler.New(lab.NewVirtualLab(), registry, scheduler.Options{
		Seed:           42,
		InitialPoints:  2,
		GracePeriod:    2 * time.Second,
		IterationDelay: iterationDelay,
	}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Close(ctx)
	})

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Experiment: config.ExperimentConfig{
			DefaultTarget: [3]int{90, 10, 130},
			DefaultNCalls: 4,
		},
		Logger:    testLogger(),
		Scheduler: sched,
		Version:   "test",
	}
	if modify != nil {
		modify(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFinished(t *testing.T, srv *Server, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.sched.Wait(ctx, id); err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, 0, nil)
	w := do(t, srv.buildRouter(), http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("body = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	router := testServer(t, 0, nil).buildRouter()

	if id := do(t, router, http.MethodGet, "/health", "").Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}
	w := do(t, router, http.MethodGet, "/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, 0, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	})
	router := srv.buildRouter()

	w := do(t, router, http.MethodOptions, "/experiments/a/start", "", "Origin", "http://localhost:3000")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}

	w = do(t, router, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO for disallowed origin = %q", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	w := do(t, testServer(t, 0, nil).buildRouter(), http.MethodGet, "/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	e := decode[Error](t, w)
	if e.Code != ErrCodeNotFound || e.Message == "" {
		t.Errorf("error body = %+v", e)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, 0, nil)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Experiments ───────────────────────────────────────────────────

func TestStartExperiment_Defaults(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/experiments/exp-1/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	if resp["experiment_id"] != "exp-1" || resp["message"] == "" {
		t.Errorf("start body = %v", resp)
	}

	waitFinished(t, srv, "exp-1")

	w = do(t, router, http.MethodGet, "/experiments/exp-1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	snap := decode[experiment.Snapshot](t, w)
	if snap.Status != experiment.StatusCompleted {
		t.Errorf("status = %q, want completed", snap.Status)
	}
	if snap.Target != (experiment.RGB{90, 10, 130}) || snap.Budget != 4 {
		t.Errorf("defaults not applied: target %v n_calls %d", snap.Target, snap.Budget)
	}
	if snap.Result == nil || snap.StartedAt == nil || snap.EndedAt == nil || snap.Progress != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	w = do(t, router, http.MethodGet, "/experiments/exp-1/action_log", "")
	if w.Code != http.StatusOK {
		t.Fatalf("action_log code = %d", w.Code)
	}
	records := decode[[]experiment.ActionRecord](t, w)
	if len(records) != 12 {
		t.Fatalf("got %d action records, want 12", len(records))
	}
	want := []experiment.ActionType{experiment.ActionPlace, experiment.ActionRead, experiment.ActionStep}
	for i, rec := range records {
		if rec.Type != want[i%3] {
			t.Errorf("record %d type = %q, want %q", i, rec.Type, want[i%3])
		}
	}
}

func TestStartExperiment_Body(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/experiments/exp-body/start", `{"target":[10,20,30],"n_calls":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	waitFinished(t, srv, "exp-body")

	snap := decode[experiment.Snapshot](t, do(t, router, http.MethodGet, "/experiments/exp-body/status", ""))
	if snap.Target != (experiment.RGB{10, 20, 30}) || snap.Budget != 3 || snap.Strategy != "surrogate" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestOptimizeRoute(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/experiments/opt-1/optimize/200/100/0/5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("optimize status = %d: %s", w.Code, w.Body.String())
	}
	waitFinished(t, srv, "opt-1")

	snap := decode[experiment.Snapshot](t, do(t, router, http.MethodGet, "/experiments/opt-1/status", ""))
	if snap.Target != (experiment.RGB{200, 100, 0}) || snap.Budget != 5 || snap.Status != experiment.StatusCompleted {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStartExperiment_Rejected(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/experiments/dup/start", `{"n_calls":1}`); w.Code != http.StatusOK {
		t.Fatalf("first start = %d", w.Code)
	}
	waitFinished(t, srv, "dup")

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "bad json", path: "/experiments/a/start", body: `{"n_calls":`, wantCode: http.StatusBadRequest, wantErr: ErrCodeBadRequest},
		{name: "zero budget", path: "/experiments/a/start", body: `{"n_calls":0}`, wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "budget past plate", path: "/experiments/a/start", body: `{"n_calls":97}`, wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "target out of range", path: "/experiments/a/start", body: `{"target":[0,0,256]}`, wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "unknown strategy", path: "/experiments/a/start", body: `{"strategy":"grid"}`, wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "non-integer path", path: "/experiments/a/optimize/red/0/0/5", wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "negative path budget", path: "/experiments/a/optimize/1/2/3/-1", wantCode: http.StatusBadRequest, wantErr: ErrCodeValidation},
		{name: "duplicate id", path: "/experiments/dup/start", wantCode: http.StatusConflict, wantErr: ErrCodeConflict},
		{name: "advisor not configured", path: "/experiments/a/optimize_llm/90/10/130/5", wantCode: http.StatusServiceUnavailable, wantErr: ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if e := decode[Error](t, w); e.Code != tt.wantErr {
				t.Errorf("error code = %q, want %q", e.Code, tt.wantErr)
			}
		})
	}

	// Rejected starts never create an experiment.
	if w := do(t, router, http.MethodGet, "/experiments/a/status", ""); w.Code != http.StatusNotFound {
		t.Errorf("rejected experiment visible: %d", w.Code)
	}
}

func TestUnknownExperiment(t *testing.T) {
	router := testServer(t, 0, nil).buildRouter()

	for _, path := range []string{"/experiments/ghost/status", "/experiments/ghost/action_log"} {
		w := do(t, router, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s code = %d, want 404", path, w.Code)
			continue
		}
		body := decode[map[string]any](t, w)
		if _, ok := body["error"]; !ok {
			t.Errorf("%s body has no error field: %v", path, body)
		}
	}
}

func TestCancelCurrentExperiment(t *testing.T) {
	srv := testServer(t, 50*time.Millisecond, nil)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/cancel_experiment", ""); w.Code != http.StatusNotFound {
		t.Errorf("cancel with nothing running = %d, want 404", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/experiments/slow/start", `{"n_calls":40}`); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	w := do(t, router, http.MethodPost, "/cancel_experiment", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[cancelResponse](t, w); resp.ExperimentID != "slow" {
		t.Errorf("cancelled %q", resp.ExperimentID)
	}

	waitFinished(t, srv, "slow")
	snap := decode[experiment.Snapshot](t, do(t, router, http.MethodGet, "/experiments/slow/status", ""))
	if snap.Status != experiment.StatusCancelled || snap.EndedAt == nil || snap.Result != nil {
		t.Errorf("snapshot after cancel = %+v", snap)
	}
	if snap.IterationsCompleted >= 40 {
		t.Errorf("run was not cut short: %d iterations", snap.IterationsCompleted)
	}

	if w := do(t, router, http.MethodPost, "/cancel_experiment", ""); w.Code != http.StatusNotFound {
		t.Errorf("second cancel = %d, want 404", w.Code)
	}
}

func TestCancelExperimentByID(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/experiments/ghost/cancel", ""); w.Code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d, want 404", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/experiments/done/start", `{"n_calls":1}`); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	waitFinished(t, srv, "done")
	if w := do(t, router, http.MethodPost, "/experiments/done/cancel", ""); w.Code != http.StatusConflict {
		t.Errorf("cancel finished = %d, want 409", w.Code)
	}
}

func TestListAndCurrent(t *testing.T) {
	srv := testServer(t, 0, nil)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodGet, "/experiments/current", ""); w.Code != http.StatusNotFound {
		t.Errorf("current before any start = %d", w.Code)
	}

	for _, id := range []string{"first", "second"} {
		if w := do(t, router, http.MethodPost, "/experiments/"+id+"/start", `{"n_calls":2}`); w.Code != http.StatusOK {
			t.Fatalf("start %s = %d", id, w.Code)
		}
		waitFinished(t, srv, id)
	}

	list := decode[struct {
		Experiments []experiment.Snapshot `json:"experiments"`
		Count       int                   `json:"count"`
	}](t, do(t, router, http.MethodGet, "/experiments", ""))
	if list.Count != 2 || len(list.Experiments) != 2 || list.Experiments[0].ID != "first" {
		t.Errorf("list = %+v", list)
	}

	current := decode[experiment.Snapshot](t, do(t, router, http.MethodGet, "/experiments/current", ""))
	if current.ID != "second" {
		t.Errorf("current = %q, want second", current.ID)
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	srv := testServer(t, 0, func(d *Deps) {
		d.Security.JWT.Secret = testSecret
	})
	router := srv.buildRouter()

	operator, err := auth.GenerateToken("bench-1", auth.RoleOperator, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	observer, err := auth.GenerateToken("viewer", auth.RoleObserver, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := auth.GenerateToken("bench-1", auth.RoleOperator, strings.Repeat("x", 40), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, wantCode: http.StatusUnauthorized},
		{name: "observer", header: "Bearer " + observer, wantCode: http.StatusForbidden},
		{name: "operator", header: "Bearer " + operator, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Nothing is running, so an authorised cancel answers 404.
			w := do(t, router, http.MethodPost, "/cancel_experiment", "", "Authorization", tt.header)
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	if w := do(t, router, http.MethodPost, "/experiments/x/start", `{"n_calls":1}`); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated start = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/experiments/x/status", ""); w.Code != http.StatusNotFound {
		t.Errorf("status route should stay open, got %d", w.Code)
	}
	w := do(t, router, http.MethodPost, "/experiments/x/start", `{"n_calls":1}`, "Authorization", "Bearer "+operator)
	if w.Code != http.StatusOK {
		t.Errorf("authorised start = %d: %s", w.Code, w.Body.String())
	}
	waitFinished(t, srv, "x")
}

// ─── Archive ───────────────────────────────────────────────────────

type fakeArchive struct {
	mu      sync.Mutex
	records map[string]*archive.Record
	filters []archive.Filter
	listErr error
}

func (f *fakeArchive) Save(context.Context, experiment.Snapshot, []experiment.ActionRecord) error {
	return nil
}

func (f *fakeArchive) AppendAction(context.Context, experiment.ActionRecord) error { return nil }

func (f *fakeArchive) Get(_ context.Context, id string) (*archive.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return rec, nil
}

func (f *fakeArchive) List(_ context.Context, filter archive.Filter) (*archive.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &archive.ListResult{Limit: filter.Limit, Offset: filter.Offset}
	for _, rec := range f.records {
		out.Experiments = append(out.Experiments, *rec)
	}
	out.Total = len(out.Experiments)
	return out, nil
}

func (f *fakeArchive) getFilters() []archive.Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archive.Filter(nil), f.filters...)
}

func TestArchiveRoutes(t *testing.T) {
	fa := &fakeArchive{records: map[string]*archive.Record{
		"old": {Snapshot: experiment.Snapshot{ID: "old", Status: experiment.StatusCompleted}},
	}}
	router := testServer(t, 0, func(d *Deps) { d.Archive = fa }).buildRouter()

	w := do(t, router, http.MethodGet, "/archive/experiments?status=completed&limit=5&offset=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if res := decode[archive.ListResult](t, w); res.Total != 1 {
		t.Errorf("total = %d", res.Total)
	}
	filters := fa.getFilters()
	if len(filters) != 1 || filters[0].Status != experiment.StatusCompleted || filters[0].Limit != 5 || filters[0].Offset != 2 {
		t.Errorf("filters = %+v", filters)
	}

	if w := do(t, router, http.MethodGet, "/archive/experiments?limit=lots", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/archive/experiments/old", ""); w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/archive/experiments/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d", w.Code)
	}

	fa.mu.Lock()
	fa.listErr = errors.New("disk I/O error")
	fa.mu.Unlock()
	if w := do(t, router, http.MethodGet, "/archive/experiments", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("list failure = %d", w.Code)
	}
}

func TestArchiveRoutes_Disabled(t *testing.T) {
	router := testServer(t, 0, nil).buildRouter()
	if w := do(t, router, http.MethodGet, "/archive/experiments", ""); w.Code != http.StatusNotFound {
		t.Errorf("archive route without archive = %d", w.Code)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	bus := events.NewBus(8, nil)
	srv := testServer(t, 0, func(d *Deps) { d.Bus = bus })
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/experiments/m/start", `{"n_calls":1}`); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	waitFinished(t, srv, "m")

	w := do(t, router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Scheduler.Total != 1 || m.Scheduler.ByStatus[experiment.StatusCompleted] != 1 {
		t.Errorf("scheduler stats = %+v", m.Scheduler)
	}
	if m.Events == nil || m.MQTT.Enabled || m.Simulator != nil || m.Database != nil {
		t.Errorf("optional sections = events %v mqtt %+v simulator %v db %v", m.Events, m.MQTT, m.Simulator, m.Database)
	}
}

// ─── Server lifecycle ──────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without scheduler succeeded")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, 0, nil)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start() = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	url := "http://" + srv.Addr().String() + "/health"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t, 0, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer first.Close()

	port := first.Addr().(*net.TCPAddr).Port
	second := testServer(t, 0, func(d *Deps) { d.Config.Port = port })
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("second Start() on the same port succeeded")
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	iter := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"experiment.iteration": {}}}
	all := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{WSChannelAll: {}}}
	none := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"experiment.finished": {}}}
	for _, c := range []*WSClient{iter, all, none} {
		hub.Register(c)
	}

	ev := events.New(events.TypeExperimentIteration, "exp-9", events.IterationPayload{Iteration: 3, Loss: 12.5})
	if err := hub.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	for name, c := range map[string]*WSClient{"exact": iter, "wildcard": all} {
		select {
		case data := <-c.send:
			var msg struct {
				Type      string       `json:"type"`
				EventType string       `json:"event_type"`
				Payload   events.Event `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("%s: unmarshal: %v", name, err)
			}
			if msg.Type != WSTypeEvent || msg.EventType != "experiment.iteration" || msg.Payload.ExperimentID != "exp-9" {
				t.Errorf("%s: message = %+v", name, msg)
			}
		default:
			t.Errorf("%s client received nothing", name)
		}
	}
	select {
	case <-none.send:
		t.Error("unsubscribed client received the event")
	default:
	}
	if hub.MessagesSent() != 2 {
		t.Errorf("MessagesSent() = %d, want 2", hub.MessagesSent())
	}

	hub.Unregister(iter)
	if hub.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d", hub.ClientCount())
	}
	// Broadcasting to a closed client must not panic.
	iter.trySend([]byte("x"))
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := testServer(t, 0, nil)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "p1" {
		t.Errorf("pong = %+v", resp)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Channels: []string{"experiment.finished"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ws.ReadJSON(&resp); err != nil || resp.Type != WSTypeResponse {
		t.Fatalf("subscribe response = %+v, %v", resp, err)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := ws.ReadJSON(&resp); err != nil || resp.Type != WSTypeError {
		t.Fatalf("invalid message response = %+v, %v", resp, err)
	}

	srv.hub.Broadcast("experiment.iteration", "ignored")
	srv.hub.Broadcast("experiment.finished", map[string]string{"experiment_id": "e1"})
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if resp.Type != WSTypeEvent || resp.EventType != "experiment.finished" {
		t.Errorf("event = %+v", resp)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filters []audit.Filter
}

func (f *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return &audit.ListResult{Entries: append([]audit.Entry{}, f.entries...), Total: len(f.entries)}, nil
}

func TestAuditTrail(t *testing.T) {
	repo := &fakeAudit{}
	writer := audit.NewWriter(repo, testLogger())
	srv := testServer(t, 50*time.Millisecond, func(d *Deps) {
		d.Audit = writer
		d.Security.JWT.Secret = testSecret
	})
	router := srv.buildRouter()

	token, err := auth.GenerateToken("bench-4", auth.RoleOperator, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	bearer := "Bearer " + token

	if w := do(t, router, http.MethodPost, "/experiments/aud-1/start", `{"n_calls":40}`, "Authorization", bearer); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/experiments/aud-1/cancel", "", "Authorization", bearer); w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	// Rejected commands are not audited.
	if w := do(t, router, http.MethodPost, "/experiments/aud-1/start", "", "Authorization", bearer); w.Code != http.StatusConflict {
		t.Fatalf("duplicate start = %d", w.Code)
	}
	waitFinished(t, srv, "aud-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer.Run(ctx)

	w := do(t, router, http.MethodGet, "/audit?source=api&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit = %d", w.Code)
	}
	res := decode[audit.ListResult](t, w)
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Fatalf("audit result = %+v", res)
	}
	start, stop := res.Entries[0], res.Entries[1]
	if start.Action != audit.ActionStart || start.Subject != "bench-4" || start.Details["n_calls"] != float64(40) {
		t.Errorf("start entry = %+v", start)
	}
	if stop.Action != audit.ActionCancel || stop.ExperimentID != "aud-1" || stop.Source != audit.SourceAPI {
		t.Errorf("cancel entry = %+v", stop)
	}

	repo.mu.Lock()
	filters := repo.filters
	repo.mu.Unlock()
	if len(filters) != 1 || filters[0].Source != "api" || filters[0].Limit != 10 {
		t.Errorf("filters = %+v", filters)
	}

	if w := do(t, router, http.MethodGet, "/audit?offset=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset = %d", w.Code)
	}
}
