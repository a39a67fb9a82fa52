package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"hls-relay/internal/client"
	"hls-relay/internal/config"
	"hls-relay/internal/middleware"
	"hls-relay/internal/model"
	"hls-relay/internal/service"
)

// invalidTargetBody is the response body for a missing or malformed url parameter.
const invalidTargetBody = "Invalid URL"

// ProxyHandler serves GET /proxy.
type ProxyHandler struct {
	service  *service.RelayService
	allowAll bool
	logger   *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.RelayService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		allowAll: cfg.CORS.AllowAll(),
		logger:   logger.With("component", "proxy_handler"),
	}
}

// Handle validates the query, relays the target and writes the buffered
// (possibly rewritten) body with the upstream status and content type.
func (h *ProxyHandler) Handle(c echo.Context) error {
	middleware.SetCORSHeaders(c.Response().Header(), h.allowAll)

	pr, err := service.ParseRequest(c.Request().Context(), c.QueryParams())
	if err != nil {
		h.logger.Warn("rejected relay request", "err", err)
		return c.String(http.StatusBadRequest, invalidTargetBody)
	}

	h.logger.Debug("relay request",
		"url", pr.RawTarget,
		"referer", pr.Referer,
		"origin", pr.Origin,
		"all", pr.ProxyAll,
	)

	resp, err := h.service.Relay(pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}

	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}

// mapError answers a failed fetch with 500 and the underlying error text.
func (h *ProxyHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	h.logger.Error("upstream fetch failed",
		"err", err,
		"kind", client.Classify(err),
		"url", pr.RawTarget,
	)

	msg := err.Error()
	var fe *client.FetchError
	if errors.As(err, &fe) {
		msg = fe.Error()
	}

	return c.String(http.StatusInternalServerError, msg)
}
