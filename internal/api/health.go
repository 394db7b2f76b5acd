package api

import (
	"context"
	"net/http"
	"time"
)

// readyCheckTimeout bounds each dependency ping during readiness probes.
const readyCheckTimeout = 2 * time.Second

// ReadyCheck pings one dependency. A nil return means ready.
type ReadyCheck func(ctx context.Context) error

// health is a liveness probe for Docker/Kubernetes. Always 200.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether every registered dependency answers a ping.
// Any failing check turns the probe 503 with the failing dependencies named.
func readiness(checks map[string]ReadyCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		deps := make(map[string]string, len(checks))

		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				status = http.StatusServiceUnavailable
				deps[name] = err.Error()
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]any{"status": "ok", "dependencies": deps}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	})
}
