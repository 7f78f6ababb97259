package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSetsStatusAndCode(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindRouteNotFound, http.StatusNotFound, "ROUTE_NOT_FOUND"},
		{KindRateLimited, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{KindCircuitOpen, http.StatusServiceUnavailable, "CIRCUIT_BREAKER_OPEN"},
		{KindWAFBlocked, http.StatusForbidden, "AUTHORIZATION_FAILED"},
		{KindInternalFailure, http.StatusInternalServerError, "INTERNAL_FAILURE"},
	}
	for _, c := range cases {
		t.Run(string(c.kind), func(t *testing.T) {
			err := New(c.kind, "boom")
			if err.Status != c.status {
				t.Errorf("status = %d, want %d", err.Status, c.status)
			}
			if err.Code != c.code {
				t.Errorf("code = %s, want %s", err.Code, c.code)
			}
		})
	}
}

func TestWithDetailsMerges(t *testing.T) {
	base := New(KindRateLimited, "rate limit exceeded").WithDetail("limit", 100)
	extended := base.WithDetail("remaining", 0)

	if _, ok := extended.Details["limit"]; !ok {
		t.Fatal("expected original detail to survive WithDetail")
	}
	if extended.Details["remaining"] != 0 {
		t.Fatal("expected new detail to be present")
	}
	// base must be unmodified (WithDetail returns a copy).
	if _, ok := base.Details["remaining"]; ok {
		t.Fatal("WithDetail must not mutate the receiver")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := New(KindInternalFailure, "dial refused")
	wrapped := Wrap(cause, KindUpstreamFailure, "upstream request failed")

	if wrapped.Unwrap() != cause {
		t.Fatal("Unwrap should return the wrapped cause")
	}
	if wrapped.Error() == "" {
		t.Fatal("Error() should not be empty")
	}
}

func TestWriteJSONEnvelope(t *testing.T) {
	err := RateLimited(1.5).WithRequestID("req-123")

	rec := httptest.NewRecorder()
	err.WriteJSON(rec)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	var body struct {
		Error     string         `json:"error"`
		Code      string         `json:"code"`
		Details   map[string]any `json:"metadata"`
		RequestID string         `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %s, want RATE_LIMIT_EXCEEDED", body.Code)
	}
	if body.RequestID != "req-123" {
		t.Errorf("request_id = %s, want req-123", body.RequestID)
	}
	if body.Details["retry_after_seconds"] != 1.5 {
		t.Errorf("metadata.retry_after_seconds = %v, want 1.5", body.Details["retry_after_seconds"])
	}
}

func TestAsUnwrapsBareGatewayError(t *testing.T) {
	ge := NoHealthyTargets("upstream-1")
	if _, ok := As(ge); !ok {
		t.Fatal("As should recognize a bare GatewayError")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if k := RouteNotFound("/foo").Kind; k != KindRouteNotFound {
		t.Errorf("RouteNotFound kind = %s", k)
	}
	if k := CircuitOpen("up-1").Kind; k != KindCircuitOpen {
		t.Errorf("CircuitOpen kind = %s", k)
	}
	if k := WAFBlocked([]string{"sqli-001"}).Kind; k != KindWAFBlocked {
		t.Errorf("WAFBlocked kind = %s", k)
	}
}
