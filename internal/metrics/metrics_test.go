package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	return w.Body.String()
}

func TestCollectorRecordRequest(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("route1", "GET", 200, 100*time.Millisecond)
	c.RecordRequest("route1", "GET", 200, 200*time.Millisecond)
	c.RecordRequest("route1", "POST", 500, 50*time.Millisecond)

	body := scrape(t, c)

	if !strings.Contains(body, `gateway_requests_total{method="GET",route="route1",status="200"} 2`) {
		t.Errorf("expected 2 GET 200 requests in output:\n%s", body)
	}
	if !strings.Contains(body, `gateway_requests_total{method="POST",route="route1",status="500"} 1`) {
		t.Errorf("expected 1 POST 500 request in output:\n%s", body)
	}
	if !strings.Contains(body, `gateway_request_duration_seconds_count{route="route1"} 3`) {
		t.Errorf("expected 3 duration observations in output:\n%s", body)
	}
}

func TestCollectorCacheMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordCacheHit("route1")
	c.RecordCacheHit("route1")
	c.RecordCacheMiss("route1")

	body := scrape(t, c)

	if !strings.Contains(body, `gateway_cache_hits_total{route="route1"} 2`) {
		t.Errorf("expected 2 cache hits in output:\n%s", body)
	}
	if !strings.Contains(body, `gateway_cache_misses_total{route="route1"} 1`) {
		t.Errorf("expected 1 cache miss in output:\n%s", body)
	}
}

func TestCollectorCircuitBreakerState(t *testing.T) {
	c := NewCollector()

	c.SetCircuitBreakerState("upstream1", 1)
	body := scrape(t, c)

	if !strings.Contains(body, `gateway_circuit_breaker_state{upstream="upstream1"} 1`) {
		t.Errorf("expected state 1 in output:\n%s", body)
	}
}

func TestCollectorBackendHealth(t *testing.T) {
	c := NewCollector()

	c.SetBackendHealth("upstream1", "target-a", true)
	c.SetBackendHealth("upstream1", "target-b", false)

	body := scrape(t, c)

	if !strings.Contains(body, `gateway_backend_health{target="target-a",upstream="upstream1"} 1`) {
		t.Errorf("expected target-a healthy in output:\n%s", body)
	}
	if !strings.Contains(body, `gateway_backend_health{target="target-b",upstream="upstream1"} 0`) {
		t.Errorf("expected target-b unhealthy in output:\n%s", body)
	}
}

func TestCollectorActiveRequests(t *testing.T) {
	c := NewCollector()

	c.RecordActiveRequest("route1", 1)
	c.RecordActiveRequest("route1", 1)
	c.RecordActiveRequest("route1", -1)

	body := scrape(t, c)
	if !strings.Contains(body, `gateway_active_requests{route="route1"} 1`) {
		t.Errorf("expected active requests gauge at 1 in output:\n%s", body)
	}
}

func TestCollectorRateLimitRejects(t *testing.T) {
	c := NewCollector()

	c.RecordRateLimitReject("route1")
	c.RecordRateLimitReject("route1")

	body := scrape(t, c)
	if !strings.Contains(body, `gateway_rate_limit_rejections_total{route="route1"} 2`) {
		t.Errorf("expected 2 rate limit rejections in output:\n%s", body)
	}
}

func TestHandlerContentType(t *testing.T) {
	c := NewCollector()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type: %s", ct)
	}
}
