package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/co-atc-safety/internal/monitor"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/internal/storage/sqlite"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Monitor is the part of the monitoring service the API drives
type Monitor interface {
	Stats() monitor.Stats
	SetEnabled(enabled bool)
	Enabled() bool
}

// EventStore answers event history queries
type EventStore interface {
	ListEvents(filter sqlite.EventFilter) ([]*sqlite.EventRecord, error)
	CountEvents() (int64, error)
}

// SinkStatter reports per-sink delivery counters
type SinkStatter interface {
	Stats() []safety.SinkStats
}

// WebSocketHub upgrades clients for the live event stream
type WebSocketHub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Dependencies are the services the handlers read from. Events and WebSocket may be nil.
type Dependencies struct {
	Monitor    Monitor
	Sinks      SinkStatter
	Events     EventStore
	WebSocket  WebSocketHub
	Thresholds safety.Thresholds
	Version    string
}

// Handler serves the HTTP API
type Handler struct {
	deps      Dependencies
	startedAt time.Time
	logger    *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Dependencies, log *logger.Logger) *Handler {
	return &Handler{
		deps:      deps,
		startedAt: time.Now().UTC(),
		logger:    log.Named("api-handler"),
	}
}

type detectionToggle struct {
	Enabled *bool `json:"enabled"`
}

type statusResponse struct {
	Version          string             `json:"version,omitempty"`
	UptimeSeconds    int64              `json:"uptime_seconds"`
	Monitor          monitor.Stats      `json:"monitor"`
	Sinks            []safety.SinkStats `json:"sinks"`
	WebSocketClients int                `json:"websocket_clients"`
	StoredEvents     *int64             `json:"stored_events,omitempty"`
	Thresholds       thresholdsView     `json:"thresholds"`
}

type thresholdsView struct {
	ProximityNM    float64 `json:"proximity_nm"`
	AltitudeDiffFt float64 `json:"altitude_diff_ft"`
	ClosureRateKt  float64 `json:"closure_rate_kt"`
	VSChangeFPM    float64 `json:"vs_change_fpm"`
	VSExtremeFPM   float64 `json:"vs_extreme_fpm"`
	TCASVSFPM      float64 `json:"tcas_vs_fpm"`
}

// GetHealth reports 503 when the last detection pass failed
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.deps.Monitor.Stats()

	body := map[string]interface{}{
		"status":            "ok",
		"detection_enabled": stats.Enabled,
	}
	code := http.StatusOK
	if stats.LastError != "" {
		body["status"] = "degraded"
		body["error"] = stats.LastError
		code = http.StatusServiceUnavailable
	}
	if !stats.LastPassAt.IsZero() {
		body["last_pass_at"] = stats.LastPassAt
	}

	h.writeJSON(w, code, body)
}

// GetStatus returns monitor, dispatcher and broadcast counters
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	th := h.deps.Thresholds
	resp := statusResponse{
		Version:       h.deps.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Monitor:       h.deps.Monitor.Stats(),
		Sinks:         []safety.SinkStats{},
		Thresholds: thresholdsView{
			ProximityNM:    th.ProximityNM,
			AltitudeDiffFt: th.AltitudeDiffFt,
			ClosureRateKt:  th.ClosureRateKt,
			VSChangeFPM:    th.VSChangeFPM,
			VSExtremeFPM:   th.VSExtremeFPM,
			TCASVSFPM:      th.TCASVSFPM,
		},
	}
	if h.deps.Sinks != nil {
		resp.Sinks = h.deps.Sinks.Stats()
	}
	if h.deps.WebSocket != nil {
		resp.WebSocketClients = h.deps.WebSocket.ClientCount()
	}
	if h.deps.Events != nil {
		if n, err := h.deps.Events.CountEvents(); err == nil {
			resp.StoredEvents = &n
		} else {
			h.logger.Warn("Failed to count stored events", logger.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetEvents lists stored events, newest first
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		h.writeError(w, http.StatusServiceUnavailable, "event storage is disabled")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.deps.Events.ListEvents(filter)
	if err != nil {
		h.logger.Error("Failed to list events", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": records,
		"count":  len(records),
	})
}

func parseEventFilter(r *http.Request) (sqlite.EventFilter, error) {
	q := r.URL.Query()
	filter := sqlite.EventFilter{
		Hex:   strings.ToLower(strings.TrimSpace(q.Get("hex"))),
		Limit: defaultEventLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		filter.Limit = n
	}

	if raw := q.Get("type"); raw != "" {
		if !safety.EventType(raw).Valid() {
			return filter, errors.New("unknown event type: " + raw)
		}
		filter.Type = raw
	}

	return filter, nil
}

// GetDetection reports whether detection is enabled
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.deps.Monitor.Enabled()})
}

// SetDetection enables or disables detection at runtime
func (h *Handler) SetDetection(w http.ResponseWriter, r *http.Request) {
	var req detectionToggle
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	h.deps.Monitor.SetEnabled(*req.Enabled)
	h.logger.Info("Detection toggled via API", logger.Bool("enabled", *req.Enabled))

	h.writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.deps.Monitor.Enabled()})
}

// HandleWebSocket upgrades the connection for live events
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.WebSocket == nil {
		h.writeError(w, http.StatusNotFound, "websocket broadcast is disabled")
		return
	}
	h.deps.WebSocket.HandleWebSocket(w, r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
