// Package service implements the relay flow: validate, fetch, rewrite.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"hls-relay/internal/metrics"
	"hls-relay/internal/model"
	"hls-relay/internal/playlist"
)

var (
	// ErrMissingTarget is returned when the url query parameter is absent or empty.
	ErrMissingTarget = errors.New("missing url parameter")

	// ErrInvalidTarget is returned when the url parameter is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("url parameter is not an absolute http(s) URL")
)

// Fetcher performs the single upstream GET for a relay request.
type Fetcher interface {
	Fetch(ctx context.Context, target, referer, origin string) (*model.UpstreamResponse, error)
}

// ParseRequest validates the relay query parameters.
func ParseRequest(ctx context.Context, q url.Values) (*model.ProxyRequest, error) {
	raw := q.Get("url")
	if raw == "" {
		return nil, ErrMissingTarget
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidTarget
	}

	return &model.ProxyRequest{
		Ctx:       ctx,
		Target:    u,
		RawTarget: raw,
		Referer:   q.Get("referer"),
		Origin:    q.Get("origin"),
		ProxyAll:  q.Get("all") == "yes",
	}, nil
}

// RelayService fetches upstream resources and rewrites manifests.
type RelayService struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayService creates a RelayService. The metrics parameter is optional.
func NewRelayService(f Fetcher, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		fetcher: f,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
	}
}

// Relay fetches pr.Target and, when it names a manifest, rewrites the body.
// Upstream status codes are mirrored; only transport failures are errors.
func (s *RelayService) Relay(pr *model.ProxyRequest) (*model.RelayResponse, error) {
	up, err := s.fetcher.Fetch(pr.Ctx, pr.RawTarget, pr.Referer, pr.Origin)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}

	resp := &model.RelayResponse{
		StatusCode:  up.StatusCode,
		ContentType: up.ContentType,
		Body:        up.Body,
	}

	if !playlist.IsManifestURL(pr.RawTarget) {
		return resp, nil
	}

	body, st := playlist.RewriteStats(string(up.Body), pr.Target, playlist.Params{
		Target:   pr.RawTarget,
		Referer:  pr.Referer,
		Origin:   pr.Origin,
		ProxyAll: pr.ProxyAll,
	})
	resp.Body = []byte(body)
	resp.Rewritten = true

	s.record(st)
	if st.Unresolved > 0 {
		s.logger.Warn("manifest lines left unresolved",
			"url", pr.RawTarget,
			"count", st.Unresolved,
		)
	}
	s.logger.Debug("manifest rewritten",
		"url", pr.RawTarget,
		"status", up.StatusCode,
		"uris", st.URIs,
		"keys", st.Keys,
	)

	return resp, nil
}

func (s *RelayService) record(st playlist.Stats) {
	if s.metrics == nil {
		return
	}
	s.metrics.ManifestRewrites.Inc()
	s.metrics.ManifestLines.WithLabelValues("uri").Add(float64(st.URIs))
	s.metrics.ManifestLines.WithLabelValues("key").Add(float64(st.Keys))
	s.metrics.ManifestLines.WithLabelValues("passthrough").Add(float64(st.Passthrough))
	s.metrics.ManifestLines.WithLabelValues("unresolved").Add(float64(st.Unresolved))
}
