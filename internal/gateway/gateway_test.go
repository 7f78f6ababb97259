package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeworks/apigw/internal/config"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: ":0"},
		Admin:  config.AdminConfig{Address: ":0"},
		Upstreams: []config.UpstreamConfig{
			{
				ID:             "backend",
				Targets:        []config.TargetConfig{{ID: "backend-1", URL: upstreamURL, Weight: 1}},
				LBPolicy:       "round-robin",
				Retries:        1,
				ConnectTimeout: time.Second,
				SendTimeout:    time.Second,
				ReadTimeout:    time.Second,
				OverallTimeout: time.Second,
			},
		},
		Routes: []config.RouteConfig{
			{
				ID:         "echo",
				Name:       "echo",
				Methods:    []string{"GET"},
				Paths:      []string{"/echo"},
				MatchMode:  "exact",
				UpstreamID: "backend",
				Enabled:    true,
			},
		},
	}
}

func TestServeHTTPRoutesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	e, err := New(testConfig(upstream.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Stop()

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected upstream body to be relayed, got %q", rec.Body.String())
	}
}

func TestServeHTTPUnknownRouteReturnsNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e, err := New(testConfig(upstream.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Stop()

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServeHTTPDisabledRouteReturnsServiceUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Routes[0].Enabled = false

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Stop()

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a disabled route, got %d", rec.Code)
	}
}

func TestServeHTTPUpstreamFailureMapsToBadGateway(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Upstreams[0].Retries = 0
	cfg.Upstreams[0].ConnectTimeout = 50 * time.Millisecond
	cfg.Upstreams[0].OverallTimeout = 100 * time.Millisecond

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Stop()

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on upstream connect failure, got %d: %s", rec.Code, rec.Body.String())
	}
}
