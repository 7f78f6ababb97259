package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/edgeworks/apigw/internal/circuitbreaker"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/edgeworks/apigw/internal/loadbalancer"
	"github.com/edgeworks/apigw/internal/logging"
	"github.com/edgeworks/apigw/internal/retry"
	"github.com/edgeworks/apigw/internal/transport"
	"go.uber.org/zap"
)

// dispatchResult carries everything the caller needs to relay the
// response and attribute the outcome.
type dispatchResult struct {
	resp     *http.Response
	target   *loadbalancer.Target
	attempts int
}

// dispatch sends r to one target of upstreamID, retrying through the
// upstream's configured retry budget. Each attempt is gated by the
// upstream's circuit breaker and selects its target through the
// upstream's load balancer, per the dispatch loop's contract: a
// circuit-open or no-healthy-targets failure never retries (it fails
// immediately, before a target is even chosen); a transport failure
// records both the breaker and the passive health state and backs off
// before the next attempt; exhausting the retry budget surfaces the
// last transport error as an UpstreamFailure.
func (e *Engine) dispatch(ctx context.Context, upstreamID string, r *http.Request, requestID, lbKey string) (*dispatchResult, error) {
	u, ok := e.upstreams[upstreamID]
	if !ok {
		return nil, gwerrors.InternalFailure(nil).WithDetail("reason", "unknown upstream").WithDetail("upstream_id", upstreamID)
	}
	bal, ok := e.lb.Get(upstreamID)
	if !ok {
		return nil, gwerrors.InternalFailure(nil).WithDetail("reason", "upstream has no load balancer").WithDetail("upstream_id", upstreamID)
	}
	breaker := e.breakers.GetOrCreate(upstreamID, circuitbreaker.Config{})
	client := e.transport.Get(upstreamID)
	overall := transport.Config{
		ConnectTimeout: u.ConnectTimeout,
		SendTimeout:    u.SendTimeout,
		ReadTimeout:    u.ReadTimeout,
		OverallTimeout: u.OverallTimeout,
	}.OverallTimeoutOrDefault()

	maxAttempts := u.Retries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !breaker.CanExecute() {
			return nil, circuitbreaker.OpenError(upstreamID)
		}

		target := bal.Next(lbKey)
		if target == nil {
			return nil, gwerrors.NoHealthyTargets(upstreamID)
		}

		target.IncrActive()
		resp, err := e.sendOnce(ctx, client, overall, target, r, requestID)
		target.DecrActive()

		if err == nil {
			breaker.RecordSuccess()
			e.health.RecordRequestResult(target.ID, true, nil)
			return &dispatchResult{resp: resp, target: target, attempts: attempt + 1}, nil
		}

		lastErr = err
		breaker.RecordFailure()
		e.health.RecordRequestResult(target.ID, false, err)
		e.metrics.RecordRetry(upstreamID)
		logging.ForUpstream(upstreamID).Warn("upstream attempt failed",
			logging.RequestIDField(requestID),
			logging.TargetField(target.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if attempt+1 < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, gwerrors.UpstreamFailure(ctx.Err(), upstreamID)
			case <-time.After(retry.Backoff(attempt + 1)):
			}
		}
	}

	logging.ForUpstream(upstreamID).Error("retry budget exhausted",
		logging.RequestIDField(requestID),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return nil, gwerrors.UpstreamFailure(lastErr, upstreamID)
}

// sendOnce builds the outbound request against target, bounds it with
// the upstream's overall per-attempt timeout, and executes it through
// the upstream's pooled client. The attempt's timeout context is only
// released when the response body is closed — cancelling it as soon
// as Do returns would cut the body stream off before the caller has a
// chance to relay it.
func (e *Engine) sendOnce(ctx context.Context, client *http.Client, overall time.Duration, target *loadbalancer.Target, r *http.Request, requestID string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, overall)

	out := transport.BuildRequest(r, target.ParsedURL, requestID)
	out = out.WithContext(attemptCtx)

	resp, err := client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}
	transport.StripHopHeaders(resp.Header)
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnCloseBody releases an attempt's timeout context when the
// response body is closed, rather than as soon as the request
// completes.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
