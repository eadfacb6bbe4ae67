package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/intelliflow/signal-core/internal/infrastructure/config"
	"github.com/intelliflow/signal-core/internal/infrastructure/logging"
	"github.com/intelliflow/signal-core/internal/signal"
	"github.com/intelliflow/signal-core/internal/topology"
)

// fakeController scripts controller responses for handler tests.
type fakeController struct {
	snapshot *signal.Snapshot
	startErr error
	started  []signal.EvpRequest
	cleared  bool
}

func (f *fakeController) Snapshot() *signal.Snapshot {
	return f.snapshot
}

func (f *fakeController) StartPreemption(_ context.Context, req signal.EvpRequest) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, req)
	return nil
}

func (f *fakeController) ClearPreemption(_ context.Context) (bool, error) {
	was := f.cleared
	f.cleared = false
	return was, nil
}

// fakeHistory serves canned records.
type fakeHistory struct {
	phases []signal.PhaseRecord
	events []signal.EvpRecord
}

func (f *fakeHistory) RecordPhase(context.Context, signal.PhaseRecord) error  { return nil }
func (f *fakeHistory) RecordEvpEvent(context.Context, signal.EvpRecord) error { return nil }

func (f *fakeHistory) ListPhases(_ context.Context, _ int) ([]signal.PhaseRecord, error) {
	return f.phases, nil
}

func (f *fakeHistory) ListEvpEvents(_ context.Context, _ int) ([]signal.EvpRecord, error) {
	return f.events, nil
}

func (f *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func apiTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.Resolve(topology.ModeTwoVideo, map[topology.Lane]topology.Source{
		topology.LaneNorth: {Type: "video", Path: "north.mp4"},
		topology.LaneEast:  {Type: "ip_webcam", URL: "http://cam.local/stream"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return topo
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		JWT: config.JWTConfig{
			Secret:         "test-secret-0123456789abcdef0123456789abcdef",
			AccessTokenTTL: 15,
		},
		Operator: config.OperatorConfig{
			Username: "operator",
			Password: "signals-test",
		},
	}
}

func newTestServer(t *testing.T, ctrl SignalController, history signal.HistoryRepository) *Server {
	t.Helper()
	srv, err := New(Deps{
		Security:   testSecurity(),
		Logger:     logging.Default(),
		Controller: ctrl,
		Topology:   apiTopology(t),
		History:    history,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.hub = NewHub(config.WebSocketConfig{}, srv.logger)
	return srv
}

// login obtains a bearer token through the real login handler.
func login(t *testing.T, router http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": "operator",
		"password": "signals-test",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.AccessToken
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without controller should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &fakeController{}, nil)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["mode"] != "two_video" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleGetState(t *testing.T) {
	ctrl := &fakeController{}
	srv := newTestServer(t, ctrl, nil)
	router := srv.buildRouter()

	// Before the controller runs, state is unavailable rather than empty.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before first snapshot", rec.Code)
	}

	ctrl.snapshot = &signal.Snapshot{
		Phase:     "NorthSouth_Green",
		Mode:      topology.ModeTwoVideo,
		Timestamp: time.Now().UTC(),
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap["phase"] != "NorthSouth_Green" {
		t.Errorf("phase = %v", snap["phase"])
	}
}

func TestHandleGetTopology(t *testing.T) {
	srv := newTestServer(t, &fakeController{}, nil)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/topology", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Mode  string                 `json:"mode"`
		Lanes []laneTopologyResponse `json:"lanes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Mode != "two_video" || len(body.Lanes) != 4 {
		t.Fatalf("mode %q lanes %d, want two_video with 4 lanes", body.Mode, len(body.Lanes))
	}
	for _, lane := range body.Lanes {
		wantAvailable := lane.Lane == topology.LaneNorth || lane.Lane == topology.LaneEast
		if lane.Available != wantAvailable {
			t.Errorf("lane %s available = %v, want %v", lane.Lane, lane.Available, wantAvailable)
		}
	}
}

func TestEvpEndpoints_RequireAuth(t *testing.T) {
	srv := newTestServer(t, &fakeController{}, nil)
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/evp/start", "/api/v1/evp/clear"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("POST %s without token: status = %d, want 401", path, rec.Code)
		}
	}

	// Garbage token is also rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evp/clear", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestHandleLogin_BadCredentials(t *testing.T) {
	srv := newTestServer(t, &fakeController{}, nil)
	router := srv.buildRouter()

	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHandleEvpStart(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusOK, ""},
		{"invalid lane", signal.ErrInvalidLane, http.StatusBadRequest, ErrCodeInvalidLane},
		{"invalid eta", signal.ErrInvalidEta, http.StatusBadRequest, ErrCodeInvalidEta},
		{"conflicting", signal.ErrConflictingPreemption, http.StatusConflict, ErrCodeConflictingPreemption},
		{"stopped", signal.ErrControllerStopped, http.StatusServiceUnavailable, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{startErr: tt.startErr}
			srv := newTestServer(t, ctrl, nil)
			router := srv.buildRouter()
			token := login(t, router)

			body, _ := json.Marshal(map[string]any{"lane": "East", "eta_seconds": 30})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/evp/start", bytes.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if tt.wantCode != "" {
				var apiErr Error
				if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
					t.Fatalf("decoding error body: %v", err)
				}
				if apiErr.Code != tt.wantCode {
					t.Errorf("error code = %q, want %q", apiErr.Code, tt.wantCode)
				}
				return
			}

			var resp evpStartResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.RequestID == "" {
				t.Error("request_id not generated")
			}
			if len(ctrl.started) != 1 || ctrl.started[0].Lane != topology.LaneEast || ctrl.started[0].EtaSeconds != 30 {
				t.Errorf("controller received %+v", ctrl.started)
			}
		})
	}
}

func TestHandleEvpClear(t *testing.T) {
	ctrl := &fakeController{cleared: true}
	srv := newTestServer(t, ctrl, nil)
	router := srv.buildRouter()
	token := login(t, router)

	clear := func() map[string]any {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evp/clear", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		return body
	}

	if body := clear(); body["cleared"] != true {
		t.Errorf("first clear body = %v, want cleared true", body)
	}
	// Idempotent: the second clear succeeds with cleared=false.
	if body := clear(); body["cleared"] != false {
		t.Errorf("second clear body = %v, want cleared false", body)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	history := &fakeHistory{
		phases: []signal.PhaseRecord{{Phase: "All_Red", DurationSeconds: 2}},
		events: []signal.EvpRecord{{Event: signal.EvpEventStarted, Lane: "East"}},
	}
	srv := newTestServer(t, &fakeController{}, history)
	router := srv.buildRouter()
	token := login(t, router)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/api/v1/history/phases")
	if rec.Code != http.StatusOK {
		t.Fatalf("phases status = %d", rec.Code)
	}
	var phases map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &phases); err != nil {
		t.Fatalf("decoding phases: %v", err)
	}
	if phases["count"] != float64(1) {
		t.Errorf("phases count = %v", phases["count"])
	}

	rec = get("/api/v1/history/evp")
	if rec.Code != http.StatusOK {
		t.Fatalf("evp status = %d", rec.Code)
	}

	if rec := get("/api/v1/history/phases?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHistoryEndpoints_Disabled(t *testing.T) {
	srv := newTestServer(t, &fakeController{}, nil)
	router := srv.buildRouter()
	token := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/phases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when history is disabled", rec.Code)
	}
}
