// Package health runs active per-target probes (http, https, or tcp)
// and accepts passive result recording from the dispatch loop, sharing
// one consecutive-pass/consecutive-fail threshold state machine between
// both paths so the thresholds are never doubled.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

// maxProbeBodyBytes bounds how much of a probe response body is read
// when matching an expected substring.
const maxProbeBodyBytes = 64 * 1024

// Status is a target's current health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// ProbeType selects the protocol used for the active probe.
type ProbeType string

const (
	ProbeHTTP  ProbeType = "http"
	ProbeHTTPS ProbeType = "https"
	ProbeTCP   ProbeType = "tcp"
)

// StatusRange is an inclusive HTTP status code range.
type StatusRange struct {
	Lo, Hi int
}

// ParseStatusRange parses "200", "2xx", or "200-299".
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	if len(s) == 3 && s[1] == 'x' && s[2] == 'x' {
		base := int(s[0]-'0') * 100
		if base < 100 || base > 500 {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{base, base + 99}, nil
	}
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo < 100 || hi > 599 || lo > hi {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return StatusRange{lo, hi}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return StatusRange{}, fmt.Errorf("invalid status code %q", s)
	}
	return StatusRange{code, code}, nil
}

func matchStatus(code int, ranges []StatusRange) bool {
	for _, r := range ranges {
		if code >= r.Lo && code <= r.Hi {
			return true
		}
	}
	return false
}

// Spec is the per-target health-check configuration named in the data
// model: probe type, request shape, expectations, and the thresholds
// shared between active and passive recording.
type Spec struct {
	Type                  ProbeType
	Address               string // host:port, used when Type is tcp
	Path                   string // used when Type is http/https
	Method                string
	ExpectedStatus        []StatusRange
	ExpectedBodySubstring string
	Timeout               time.Duration
	Interval              time.Duration
	HealthyThreshold      int
	UnhealthyThreshold    int
}

func (s Spec) withDefaults() Spec {
	if s.Method == "" {
		s.Method = http.MethodGet
	}
	if s.Path == "" {
		s.Path = "/health"
	}
	if len(s.ExpectedStatus) == 0 {
		s.ExpectedStatus = []StatusRange{{200, 399}}
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	if s.HealthyThreshold <= 0 {
		s.HealthyThreshold = 2
	}
	if s.UnhealthyThreshold <= 0 {
		s.UnhealthyThreshold = 3
	}
	return s
}

// Result is a point-in-time view of a target's health, returned by
// CheckNow and GetAllStatus.
type Result struct {
	TargetID  string
	Status    Status
	Latency   time.Duration
	Error     error
	Timestamp time.Time
}

type targetState struct {
	spec            Spec
	status          Status
	lastCheck       time.Time
	lastError       error
	latency         time.Duration
	consecutivePass int
	consecutiveFail int
}

// Checker runs active probes per registered target and accepts passive
// results from the engine's dispatch loop, grounded on the teacher's
// Checker/TCPChecker pair, merged into one type covering all three
// probe types and generalized to a target id rather than a raw URL.
type Checker struct {
	httpClient *http.Client
	clock      clock.Clock
	onChange   func(targetID string, status Status)

	mu      sync.RWMutex
	targets map[string]*targetState

	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures a Checker.
type Config struct {
	Clock    clock.Clock
	OnChange func(targetID string, status Status)
}

// NewChecker builds a Checker. Active probing for a target starts when
// AddTarget is called.
func NewChecker(cfg Config) *Checker {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock:   c,
		onChange: cfg.OnChange,
		targets: make(map[string]*targetState),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTarget registers a target and starts its probe loop.
func (c *Checker) AddTarget(targetID string, spec Spec) {
	spec = spec.withDefaults()

	c.mu.Lock()
	c.targets[targetID] = &targetState{spec: spec, status: StatusUnknown}
	c.mu.Unlock()

	go c.probeLoop(targetID)
}

// RemoveTarget stops probing a target and discards its state.
func (c *Checker) RemoveTarget(targetID string) {
	c.mu.Lock()
	delete(c.targets, targetID)
	c.mu.Unlock()
}

// Stop cancels every active probe loop.
func (c *Checker) Stop() { c.cancel() }

// GetStatus returns a target's current classification.
func (c *Checker) GetStatus(targetID string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.targets[targetID]; ok {
		return st.status
	}
	return StatusUnknown
}

// IsHealthy reports whether a target is currently classified healthy.
func (c *Checker) IsHealthy(targetID string) bool {
	return c.GetStatus(targetID) == StatusHealthy
}

// GetAllStatus returns a result snapshot for every registered target.
func (c *Checker) GetAllStatus() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Result, len(c.targets))
	for id, st := range c.targets {
		out[id] = Result{TargetID: id, Status: st.status, Latency: st.latency, Error: st.lastError, Timestamp: st.lastCheck}
	}
	return out
}

// RecordRequestResult is the passive path: the engine calls this on
// every real upstream interaction. It shares threshold state with the
// active probe loop, so thresholds are never doubled.
func (c *Checker) RecordRequestResult(targetID string, success bool, err error) {
	c.updateStatus(targetID, success, 0, err)
}

func (c *Checker) probeLoop(targetID string) {
	c.probeOnce(targetID)

	c.mu.RLock()
	st, ok := c.targets[targetID]
	if !ok {
		c.mu.RUnlock()
		return
	}
	interval := st.spec.Interval
	c.mu.RUnlock()

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
			c.mu.RLock()
			_, exists := c.targets[targetID]
			c.mu.RUnlock()
			if !exists {
				return
			}
			c.probeOnce(targetID)
		}
	}
}

// CheckNow runs a single probe immediately and returns its result.
func (c *Checker) CheckNow(targetID string) Result {
	c.probeOnce(targetID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.targets[targetID]; ok {
		return Result{TargetID: targetID, Status: st.status, Latency: st.latency, Error: st.lastError, Timestamp: st.lastCheck}
	}
	return Result{TargetID: targetID, Status: StatusUnknown, Timestamp: c.clock.Now()}
}

func (c *Checker) probeOnce(targetID string) {
	c.mu.RLock()
	st, ok := c.targets[targetID]
	if !ok {
		c.mu.RUnlock()
		return
	}
	spec := st.spec
	c.mu.RUnlock()

	start := c.clock.Now()
	var probeErr error
	switch spec.Type {
	case ProbeTCP:
		probeErr = c.probeTCP(spec)
	default:
		probeErr = c.probeHTTP(spec)
	}
	latency := c.clock.Now().Sub(start)

	c.updateStatus(targetID, probeErr == nil, latency, probeErr)
}

func (c *Checker) probeTCP(spec Spec) error {
	ctx, cancel := context.WithTimeout(c.ctx, spec.Timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", spec.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Checker) probeHTTP(spec Spec) error {
	ctx, cancel := context.WithTimeout(c.ctx, spec.Timeout)
	defer cancel()

	scheme := "http"
	if spec.Type == ProbeHTTPS {
		scheme = "https"
	}
	url := scheme + "://" + spec.Address + spec.Path

	req, err := http.NewRequestWithContext(ctx, spec.Method, url, nil)
	if err != nil {
		return err
	}

	client := c.httpClient
	if spec.Type == ProbeHTTPS {
		client = &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: false}}}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !matchStatus(resp.StatusCode, spec.ExpectedStatus) {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if spec.ExpectedBodySubstring != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))
		if err != nil {
			return err
		}
		if !strings.Contains(string(body), spec.ExpectedBodySubstring) {
			return fmt.Errorf("response body does not contain expected substring")
		}
	}
	return nil
}

func (c *Checker) updateStatus(targetID string, success bool, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.targets[targetID]
	if !ok {
		return
	}

	st.lastCheck = c.clock.Now()
	st.lastError = err
	if latency > 0 {
		st.latency = latency
	}

	old := st.status
	if success {
		st.consecutiveFail = 0
		st.consecutivePass++
		if st.consecutivePass >= st.spec.HealthyThreshold {
			st.status = StatusHealthy
		}
	} else {
		st.consecutivePass = 0
		st.consecutiveFail++
		if st.consecutiveFail >= st.spec.UnhealthyThreshold {
			st.status = StatusUnhealthy
		}
	}

	if old != st.status && c.onChange != nil {
		go c.onChange(targetID, st.status)
	}
}
