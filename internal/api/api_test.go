package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/co-atc-safety/internal/config"
	"github.com/yegors/co-atc-safety/internal/monitor"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/internal/storage/sqlite"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

type fakeMonitor struct {
	mu      sync.Mutex
	stats   monitor.Stats
	enabled bool
}

func (m *fakeMonitor) Stats() monitor.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Enabled = m.enabled
	return s
}

func (m *fakeMonitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *fakeMonitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

type fakeSinks []safety.SinkStats

func (f fakeSinks) Stats() []safety.SinkStats { return f }

type fakeEvents struct {
	records []*sqlite.EventRecord
	last    sqlite.EventFilter
	err     error
}

func (f *fakeEvents) ListEvents(filter sqlite.EventFilter) ([]*sqlite.EventRecord, error) {
	f.last = filter
	return f.records, f.err
}

func (f *fakeEvents) CountEvents() (int64, error) { return int64(len(f.records)), nil }

func newTestRouter(deps Dependencies) http.Handler {
	cfg := &config.ServerConfig{CORSAllowedOrigins: []string{"https://ops.example"}}
	return NewRouter(deps, cfg, logger.NewNop()).Routes()
}

func baseDeps() (Dependencies, *fakeMonitor) {
	mon := &fakeMonitor{
		enabled: true,
		stats: monitor.Stats{
			Ticks:           12,
			Aircraft:        7,
			TrackedAircraft: 9,
			LedgerSize:      2,
			Suppressed:      4,
			FeedLag:         1500 * time.Millisecond,
			LastPassAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			AdmittedByType: map[string]uint64{
				"tcas_ra":            1,
				"proximity_conflict": 3,
			},
			SourceFailures: map[string]uint64{"remote": 2},
		},
	}
	return Dependencies{
		Monitor:    mon,
		Sinks:      fakeSinks{{Name: "sqlite", Delivered: 4}, {Name: "nats", Delivered: 3, Failed: 1}},
		Thresholds: safety.DefaultConfig().Thresholds,
		Version:    "test",
	}, mon
}

func TestHealth(t *testing.T) {
	deps, mon := baseDeps()
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	mon.stats.LastError = "all sources failed"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestStatus(t *testing.T) {
	deps, _ := baseDeps()
	deps.Events = &fakeEvents{records: make([]*sqlite.EventRecord, 5)}
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Monitor.Ticks != 12 || resp.Monitor.TrackedAircraft != 9 {
		t.Errorf("monitor stats not passed through: %+v", resp.Monitor)
	}
	if len(resp.Sinks) != 2 {
		t.Errorf("sinks = %d, want 2", len(resp.Sinks))
	}
	if resp.StoredEvents == nil || *resp.StoredEvents != 5 {
		t.Errorf("stored_events = %v, want 5", resp.StoredEvents)
	}
	if resp.Thresholds.ProximityNM != deps.Thresholds.ProximityNM {
		t.Errorf("thresholds = %+v", resp.Thresholds)
	}
}

func TestEventsWithoutStorage(t *testing.T) {
	deps, _ := baseDeps()
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestEventsQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
		wantType  string
		wantHex   string
	}{
		{"defaults", "", http.StatusOK, defaultEventLimit, "", ""},
		{"filters", "?type=tcas_ra&hex=A1B2C3&limit=5", http.StatusOK, 5, "tcas_ra", "a1b2c3"},
		{"limit capped", "?limit=100000", http.StatusOK, maxEventLimit, "", ""},
		{"bad limit", "?limit=abc", http.StatusBadRequest, 0, "", ""},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0, "", ""},
		{"unknown type", "?type=bird_strike", http.StatusBadRequest, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := baseDeps()
			store := &fakeEvents{records: []*sqlite.EventRecord{{EventID: "e1", EventType: "tcas_ra"}}}
			deps.Events = store
			router := newTestRouter(deps)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events"+tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if store.last.Limit != tt.wantLimit || store.last.Type != tt.wantType || store.last.Hex != tt.wantHex {
				t.Errorf("filter = %+v", store.last)
			}

			var body struct {
				Events []sqlite.EventRecord `json:"events"`
				Count  int                  `json:"count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != 1 || body.Events[0].EventID != "e1" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestEventsStorageError(t *testing.T) {
	deps, _ := baseDeps()
	deps.Events = &fakeEvents{err: errors.New("disk I/O error")}
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk") {
		t.Error("storage error leaked to client")
	}
}

func TestDetectionToggle(t *testing.T) {
	deps, mon := baseDeps()
	router := newTestRouter(deps)

	put := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/v1/detection", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := put(`{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if mon.Enabled() {
		t.Error("detection still enabled")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/detection", nil))
	if strings.TrimSpace(rec.Body.String()) != `{"enabled":false}` {
		t.Errorf("body = %s", rec.Body.String())
	}

	for _, bad := range []string{`{}`, `not json`, `{"enabled":"yes"}`} {
		if rec := put(bad); rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", bad, rec.Code)
		}
	}
	if mon.Enabled() {
		t.Error("rejected request changed state")
	}
}

func TestWebSocketDisabled(t *testing.T) {
	deps, _ := baseDeps()
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	deps, _ := baseDeps()
	router := newTestRouter(deps)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/detection", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	deps, _ := baseDeps()
	router := newTestRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("content type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"safety_up 1",
		"safety_detection_enabled 1",
		"safety_ticks_total 12",
		"safety_tracker_aircraft 9",
		"safety_ledger_entries 2",
		"safety_feed_lag_seconds 1.500",
		`safety_events_admitted_total{event_type="proximity_conflict"} 3`,
		`safety_events_admitted_total{event_type="tcas_ra"} 1`,
		`safety_source_failures_total{source="remote"} 2`,
		`safety_sink_failed_total{sink="nats"} 1`,
		"# TYPE safety_events_suppressed_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Index(body, `event_type="proximity_conflict"`) > strings.Index(body, `event_type="tcas_ra"`) {
		t.Error("labels are not sorted")
	}
}

func TestEscapeLabel(t *testing.T) {
	if got := EscapeLabel("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Errorf("EscapeLabel = %q", got)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	deps, _ := baseDeps()
	srv := NewServer("127.0.0.1:0", 4, newTestRouter(deps), logger.NewNop())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	deps, mon := baseDeps()
	router := newTestRouter(deps)

	body := `{"enabled": false, "pad": "` + strings.Repeat("x", maxRequestBody) + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/detection", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !mon.Enabled() {
		t.Error("oversized request changed state")
	}
}
