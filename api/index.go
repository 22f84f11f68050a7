// Package api exposes the service as a single serverless function.
package api

import (
	"net/http"
	"sync"

	"authcore/internal/app"
	"authcore/internal/config"
	"authcore/internal/observability"
)

// The platform edge is the one proxy in front of the function, so its
// X-Forwarded-For entry is trusted by default.
const platformProxyHops = 1

var buildRuntime = sync.OnceValues(func() (*app.Runtime, error) {
	runtime, err := app.Build(app.Options{
		RunMigrations:    config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		TrustedProxyHops: platformProxyHops,
	})
	if err != nil {
		observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": err.Error()})
	}
	return runtime, err
})

// Handler builds the runtime on the first invocation of a cold instance and
// reuses it while the instance stays warm. A failed build is not retried.
func Handler(w http.ResponseWriter, r *http.Request) {
	runtime, err := buildRuntime()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","message":"service unavailable"}` + "\n"))
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}
