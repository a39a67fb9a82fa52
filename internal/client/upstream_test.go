package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hls-relay/internal/config"
	"hls-relay/internal/metrics"
	"hls-relay/internal/model"
)

func testConfig(timeout int, maxBody int64) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
			MaxBodyBytes:    maxBody,
			UserAgent:       "hls-relay-test",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpstreamClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if got := r.Header.Get("User-Agent"); got != "hls-relay-test" {
			t.Errorf("User-Agent = %q, want %q", got, "hls-relay-test")
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10, 0), testLogger(), nil)

	resp, err := c.Fetch(context.Background(), srv.URL+"/seg0.ts", "https://site.example", "https://origin.example")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.ContentType != "video/mp2t" {
		t.Errorf("ContentType = %q, want %q", resp.ContentType, "video/mp2t")
	}
	if string(resp.Body) != "segment-bytes" {
		t.Errorf("Body = %q, want %q", resp.Body, "segment-bytes")
	}
}

func TestUpstreamClient_Fetch_ForwardsOverrideHeaders(t *testing.T) {
	tests := []struct {
		name    string
		referer string
		origin  string
	}{
		{"both set", "https://site.example/page?x=1", "https://site.example"},
		{"referer only", "https://site.example/", ""},
		{"both empty", "", ""},
		{"non-url values", "plain text", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				referer, ok := r.Header["Referer"]
				if !ok {
					t.Error("Referer header not sent")
				} else if len(referer) != 1 || referer[0] != tt.referer {
					t.Errorf("Referer = %q, want %q", referer, tt.referer)
				}
				origin, ok := r.Header["Origin"]
				if !ok {
					t.Error("Origin header not sent")
				} else if len(origin) != 1 || origin[0] != tt.origin {
					t.Errorf("Origin = %q, want %q", origin, tt.origin)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			c := NewUpstreamClient(testConfig(10, 0), testLogger(), nil)
			if _, err := c.Fetch(context.Background(), srv.URL, tt.referer, tt.origin); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
		})
	}
}

func TestUpstreamClient_Fetch_DefaultContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// An explicit empty value stops net/http from sniffing a type.
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10, 0), testLogger(), nil)
	resp, err := c.Fetch(context.Background(), srv.URL+"/index.m3u8", "", "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.ContentType != model.DefaultContentType {
		t.Errorf("ContentType = %q, want %q", resp.ContentType, model.DefaultContentType)
	}
}

func TestUpstreamClient_Fetch_Non2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10, 0), testLogger(), nil)
	resp, err := c.Fetch(context.Background(), srv.URL, "", "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	if string(resp.Body) != "forbidden" {
		t.Errorf("Body = %q, want %q", resp.Body, "forbidden")
	}
}

func TestUpstreamClient_Fetch_Unreachable(t *testing.T) {
	c := NewUpstreamClient(testConfig(1, 0), testLogger(), nil)

	_, err := c.Fetch(context.Background(), "http://127.0.0.1:1/nonexistent", "", "")
	if err == nil {
		t.Fatal("Fetch() expected error for unreachable host, got nil")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.URL != "http://127.0.0.1:1/nonexistent" {
		t.Errorf("FetchError.URL = %q", fe.URL)
	}
	if fe.Error() == "" {
		t.Error("FetchError.Error() is empty")
	}
}

func TestUpstreamClient_Fetch_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(30, 0), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, srv.URL+"/slow", "", "")
	if err == nil {
		t.Fatal("Fetch() expected error for canceled context, got nil")
	}
	if kind := Classify(err); kind != "canceled" {
		t.Errorf("Classify() = %q, want %q", kind, "canceled")
	}
}

func TestUpstreamClient_Fetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewUpstreamClient(testConfig(10, 16), testLogger(), m)

	_, err := c.Fetch(context.Background(), srv.URL, "", "")
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrBodyTooLarge", err)
	}

	families, gerr := m.Registry.Gather()
	if gerr != nil {
		t.Fatalf("Gather() error = %v", gerr)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "hls_relay_upstream_errors_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == "body_too_large" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected hls_relay_upstream_errors_total{kind=body_too_large}")
	}
}

func TestUpstreamClient_Fetch_BodyAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer srv.Close()

	c := NewUpstreamClient(testConfig(10, 16), testLogger(), nil)
	resp, err := c.Fetch(context.Background(), srv.URL, "", "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(resp.Body) != 16 {
		t.Errorf("len(Body) = %d, want 16", len(resp.Body))
	}
}

func TestUpstreamClient_Fetch_InvalidURL(t *testing.T) {
	c := NewUpstreamClient(testConfig(10, 0), testLogger(), nil)

	_, err := c.Fetch(context.Background(), "http://[::1", "", "")
	if err == nil {
		t.Fatal("Fetch() expected error for malformed URL, got nil")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error type = %T, want *FetchError", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"body too large", fmt.Errorf("wrap: %w", ErrBodyTooLarge), "body_too_large"},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), "canceled"},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), "timeout"},
		{"dns", &net.DNSError{Err: "no such host", Name: "cdn.example"}, "dns"},
		{"dns timeout still dns", &net.DNSError{Err: "timeout", Name: "cdn.example", IsTimeout: true}, "dns"},
		{"connect", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, "connect"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
