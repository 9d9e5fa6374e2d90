package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
)

type errorBody struct {
	Error string `json:"error"`
}

// HealthHandler serves /healthz. The daemon is healthy while cycles keep
// completing within twice the check interval.
func HealthHandler(tracker *Tracker, checkInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if !tracker.Healthy(time.Now().UTC(), checkInterval) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz; ready after the first completed cycle.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if !tracker.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, tracker.Snapshot())
	}
}

// StatusHandler serves /statusz with the per-endpoint state of the last cycle.
func StatusHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tracker.Status())
	}
}

// EndpointHandler serves /statusz/{host}/{service}.
func EndpointHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := fleet.Key{Host: r.PathValue("host"), Service: r.PathValue("service")}
		s, ok := tracker.Endpoint(key)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown endpoint " + key.String()})
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
