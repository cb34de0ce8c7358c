package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const eventsFamily = "webrtc_call_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler serves every counter as one sample of the
// webrtc_call_events_total family, labelled by event name.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		events := make([]string, 0, len(snap))
		for name := range snap {
			events = append(events, name)
		}
		sort.Strings(events)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprintf(w, "# HELP %s Relay routing/drop events and call session events (negotiation, candidates, decode errors).\n", eventsFamily)
		fmt.Fprintf(w, "# TYPE %s counter\n", eventsFamily)
		for _, name := range events {
			fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsFamily, labelEscaper.Replace(name), snap[name])
		}
	})
}
