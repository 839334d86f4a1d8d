package gateway

import (
	"encoding/json"
	"net/http"
)

// Routes registers the session endpoint and the service surface on mux.
// ready reports whether the runtime finished starting; version is echoed
// on the index route.
func (g *Gateway) Routes(mux *http.ServeMux, serviceName, version string, ready func() bool) {
	mux.HandleFunc("GET /voice-agent/{agent_id}", g.HandleVoiceAgent)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": serviceName,
			"version": version,
			"status":  "running",
		})
	})

	health := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "healthy",
			"active_sessions": g.registry.Len(),
		})
	}
	mux.HandleFunc("GET /healthz", health)
	mux.HandleFunc("GET /health", health)

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
