package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hls-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// relayStatus is the body of GET /relay/status.
type relayStatus struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	CORSPermissive  bool   `json:"cors_permissive"`
	UpstreamTimeout int    `json:"upstream_timeout_seconds"`
	MaxBodyBytes    int64  `json:"upstream_max_body_bytes"`
	MetricsEnabled  bool   `json:"metrics_enabled"`
}

// Status returns relay settings useful when debugging a deployment.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, relayStatus{
		Status:          "ok",
		Version:         string(h.version),
		CORSPermissive:  h.cfg.CORS.AllowAll(),
		UpstreamTimeout: h.cfg.Upstream.TimeoutSeconds,
		MaxBodyBytes:    h.cfg.Upstream.MaxBodyBytes,
		MetricsEnabled:  h.cfg.Metrics.Enabled,
	})
}
