// Package server provides HTTP server construction for solara-sync.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/solara-sync/internal/auth"
)

// HealthFunc reports liveness details for /healthz.
type HealthFunc func() Health

// Health is the /healthz body.
type Health struct {
	Status  string `json:"status"`
	Online  bool   `json:"online"`
	Pending int    `json:"pending"`
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       *auth.KeyStore
	MCPHandler http.Handler
	Health     HealthFunc
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with the health and MCP endpoints. The MCP
// endpoint is protected by Bearer API key middleware; /healthz is open.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth(cfg.Health, cfg.Logger))

	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}

func handleHealth(health HealthFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := Health{Status: "ok"}
		if health != nil {
			h = health()
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(h); err != nil {
			logger.Debug("writing health response", slog.String("error", err.Error()))
		}
	}
}
