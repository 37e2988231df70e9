package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// GetMetrics renders monitor and dispatcher counters in the Prometheus text format
func (h *Handler) GetMetrics(w http.ResponseWriter, _ *http.Request) {
	s := h.deps.Monitor.Stats()

	var b strings.Builder
	b.Grow(4096)

	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	up := 1
	if s.LastError != "" {
		up = 0
	}

	writeMetricHeader(&b, "safety_up", "Whether the latest detection pass succeeded", "gauge")
	fmt.Fprintf(&b, "safety_up %d\n", up)

	writeMetricHeader(&b, "safety_detection_enabled", "Whether detection is enabled", "gauge")
	fmt.Fprintf(&b, "safety_detection_enabled %d\n", enabled)

	writeMetricHeader(&b, "safety_ticks_total", "Detection passes completed", "counter")
	fmt.Fprintf(&b, "safety_ticks_total %d\n", s.Ticks)

	writeMetricHeader(&b, "safety_ticks_skipped_total", "Ticks skipped because a pass was still running", "counter")
	fmt.Fprintf(&b, "safety_ticks_skipped_total %d\n", s.Skipped)

	writeMetricHeader(&b, "safety_ticks_failed_total", "Ticks where every source failed", "counter")
	fmt.Fprintf(&b, "safety_ticks_failed_total %d\n", s.Failed)

	writeMetricHeader(&b, "safety_last_pass_duration_seconds", "Duration of the latest detection pass", "gauge")
	fmt.Fprintf(&b, "safety_last_pass_duration_seconds %.6f\n", s.LastPassDuration.Seconds())

	if !s.LastPassAt.IsZero() {
		writeMetricHeader(&b, "safety_last_pass_timestamp_seconds", "Unix time of the latest detection pass", "gauge")
		fmt.Fprintf(&b, "safety_last_pass_timestamp_seconds %d\n", s.LastPassAt.Unix())
	}

	writeMetricHeader(&b, "safety_feed_lag_seconds", "Wall time minus the feed clock at the latest pass", "gauge")
	fmt.Fprintf(&b, "safety_feed_lag_seconds %.3f\n", s.FeedLag.Seconds())

	writeMetricHeader(&b, "safety_batch_aircraft", "Aircraft in the latest merged batch", "gauge")
	fmt.Fprintf(&b, "safety_batch_aircraft %d\n", s.Aircraft)

	writeMetricHeader(&b, "safety_tracker_aircraft", "Aircraft with retained history", "gauge")
	fmt.Fprintf(&b, "safety_tracker_aircraft %d\n", s.TrackedAircraft)

	writeMetricHeader(&b, "safety_ledger_entries", "Entries in the cooldown ledger", "gauge")
	fmt.Fprintf(&b, "safety_ledger_entries %d\n", s.LedgerSize)

	writeMetricHeader(&b, "safety_events_suppressed_total", "Events suppressed by cooldown", "counter")
	fmt.Fprintf(&b, "safety_events_suppressed_total %d\n", s.Suppressed)

	writeMetricHeader(&b, "safety_evaluations_recovered_total", "Detector evaluations that panicked and were recovered", "counter")
	fmt.Fprintf(&b, "safety_evaluations_recovered_total %d\n", s.Recovered)

	writeMetricHeader(&b, "safety_events_admitted_total", "Events admitted by the cooldown gate", "counter")
	for _, k := range sortedKeys(s.AdmittedByType) {
		fmt.Fprintf(&b, "safety_events_admitted_total{event_type=\"%s\"} %d\n", EscapeLabel(k), s.AdmittedByType[k])
	}

	writeMetricHeader(&b, "safety_source_failures_total", "Failed fetches per source", "counter")
	for _, k := range sortedKeys(s.SourceFailures) {
		fmt.Fprintf(&b, "safety_source_failures_total{source=\"%s\"} %d\n", EscapeLabel(k), s.SourceFailures[k])
	}

	if h.deps.Sinks != nil {
		sinks := h.deps.Sinks.Stats()
		writeMetricHeader(&b, "safety_sink_delivered_total", "Events delivered per sink", "counter")
		for _, st := range sinks {
			fmt.Fprintf(&b, "safety_sink_delivered_total{sink=\"%s\"} %d\n", EscapeLabel(st.Name), st.Delivered)
		}
		writeMetricHeader(&b, "safety_sink_failed_total", "Failed deliveries per sink", "counter")
		for _, st := range sinks {
			fmt.Fprintf(&b, "safety_sink_failed_total{sink=\"%s\"} %d\n", EscapeLabel(st.Name), st.Failed)
		}
		writeMetricHeader(&b, "safety_sink_dropped_total", "Events dropped because the sink queue was full", "counter")
		for _, st := range sinks {
			fmt.Fprintf(&b, "safety_sink_dropped_total{sink=\"%s\"} %d\n", EscapeLabel(st.Name), st.Dropped)
		}
		writeMetricHeader(&b, "safety_sink_queue_depth", "Events waiting per sink", "gauge")
		for _, st := range sinks {
			fmt.Fprintf(&b, "safety_sink_queue_depth{sink=\"%s\"} %d\n", EscapeLabel(st.Name), st.Queued)
		}
	}

	if h.deps.WebSocket != nil {
		writeMetricHeader(&b, "safety_websocket_clients", "Connected websocket clients", "gauge")
		fmt.Fprintf(&b, "safety_websocket_clients %d\n", h.deps.WebSocket.ClientCount())
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func writeMetricHeader(b *strings.Builder, metric, help, metricType string) {
	fmt.Fprintf(b, "# HELP %s %s\n", metric, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", metric, metricType)
}

// EscapeLabel escapes a Prometheus label value
func EscapeLabel(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "\n", `\n`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return value
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
