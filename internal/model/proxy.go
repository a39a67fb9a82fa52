// Package model defines shared types for the relay.
package model

import (
	"context"
	"net/url"
)

// DefaultContentType is used when the upstream response carries no Content-Type.
const DefaultContentType = "application/vnd.apple.mpegurl"

// ProxyRequest is a validated inbound relay request.
type ProxyRequest struct {
	Ctx context.Context

	// Target is the parsed absolute upstream URL; RawTarget is the value
	// exactly as the client sent it in the url parameter.
	Target    *url.URL
	RawTarget string

	Referer  string
	Origin   string
	ProxyAll bool
}

// UpstreamResponse is the fully buffered result of a single upstream GET.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// RelayResponse is what the relay sends back to the client.
type RelayResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Rewritten   bool
}
