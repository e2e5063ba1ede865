package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/streamlabs-tracer/internal/connection"
	"github.com/rickgao/streamlabs-tracer/internal/version"
)

// statsSource is the part of the manager the health endpoint reads.
type statsSource interface {
	Stats() connection.ManagerStats
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(src statsSource, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()

		health := struct {
			Status     string                 `json:"status"`
			Version    version.Info           `json:"version"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]interface{}),
		}

		switch {
		case !stats.Started:
			health.Status = "unhealthy"
		case stats.Authorized < stats.Sessions:
			health.Status = "degraded"
		}
		health.Components["streamlabs"] = stats

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}
