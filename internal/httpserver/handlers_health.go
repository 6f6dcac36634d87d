package httpserver

import (
	"net/http"
	"time"
)

// health reports liveness. It deliberately does not touch the database so
// probes keep passing while storage is degraded; storage problems surface
// through metrics instead.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "indexpilot",
		"uptime_seconds": int(time.Since(serverStartTime).Seconds()),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}
