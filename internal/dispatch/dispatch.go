// Package dispatch implements the Dispatcher (spec §4.3): per-request
// target selection with backoff and non-streaming admission, issuing the
// upstream call and handing back its response for the server to forward.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nulpointcorp/powerproxy/internal/metrics"
	"github.com/nulpointcorp/powerproxy/internal/registry"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
	"github.com/nulpointcorp/powerproxy/pkg/respond"
)

const defaultRetryAfterMS = 10_000

// UpstreamResponse is the outcome of a successful dispatch: headers and a
// body reader from the chosen target, not yet consumed.
type UpstreamResponse struct {
	StatusCode  int
	Headers     map[string]string
	Body        io.ReadCloser
	IsStreaming bool
	Target      *registry.Target
}

// Dispatcher selects a target and issues the upstream call.
type Dispatcher struct {
	reg     *registry.Registry
	metrics *metrics.Registry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Dispatcher. metricsReg may be nil to disable metrics
// recording (used by tests).
func New(reg *registry.Registry, metricsReg *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		metrics: metricsReg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch walks targets in declared order, picking the first that is not
// backed off, matches the requested virtual deployment, and admits the
// request's streaming mode. It retries the next target on upstream 429/500
// or connect failure, and returns ImmediateResponse(429) once exhausted. If
// ctx is cancelled, it returns ctx's error without trying further targets.
func (d *Dispatcher) Dispatch(ctx context.Context, slip *routingslip.Slip) (*UpstreamResponse, error) {
	for _, t := range d.reg.Targets {
		nowMS := time.Now().UnixMilli()
		if t.IsBlocked(nowMS) {
			continue
		}
		if !matchesVirtualDeployment(t, slip) {
			continue
		}
		if !d.admitNonStreaming(t, slip) {
			continue
		}

		resp, err := d.issue(ctx, t, slip)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.Block(nowMS, defaultRetryAfterMS)
			d.recordAttempt(t.ID, "connect_error")
			d.recordBackoff(t.ID, "connect_error")
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusInternalServerError {
			retryAfterMS := parseRetryAfterMS(resp.Headers, defaultRetryAfterMS)
			t.Block(nowMS, retryAfterMS)
			if resp.Body != nil {
				resp.Body.Close()
			}
			d.recordAttempt(t.ID, strconv.Itoa(resp.StatusCode))
			d.recordBackoff(t.ID, strconv.Itoa(resp.StatusCode))
			continue
		}

		d.recordAttempt(t.ID, "ok")
		d.clearBlocked(t.ID)
		return resp, nil
	}

	return nil, respond.NoCapacity(
		"Could not find any endpoint or deployment with remaining capacity. Try again later.",
	)
}

func matchesVirtualDeployment(t *registry.Target, slip *routingslip.Slip) bool {
	if t.Kind == registry.KindEndpoint {
		return true
	}
	return t.VirtualDeployment == slip.VirtualDeployment
}

// admitNonStreaming applies the non_streaming_fraction gate. Streaming
// requests always pass; non-streaming requests are admitted deterministically
// at f==1 or f==0 and probabilistically in between.
func (d *Dispatcher) admitNonStreaming(t *registry.Target, slip *routingslip.Slip) bool {
	if !slip.IsNonStreamingResponseRequested {
		return true
	}
	f := t.NonStreamingFraction
	if f >= 1 {
		return true
	}
	if f <= 0 {
		return false
	}
	d.rngMu.Lock()
	r := d.rng.Float64()
	d.rngMu.Unlock()
	return r < f
}

func (d *Dispatcher) issue(ctx context.Context, t *registry.Target, slip *routingslip.Slip) (*UpstreamResponse, error) {
	slip.AOAIEndpoint = t.EndpointName
	slip.AOAIVirtualDeployment = t.VirtualDeployment
	slip.AOAIStandinDeployment = t.Standin
	slip.AOAIRequestStartTimeMS = time.Now().UnixMilli()

	if t.Mock != nil {
		return d.issueMock(t, slip)
	}

	url := t.BaseURL + rewritePath(slip.Path, t) + querySuffix(slip.Query)

	req, err := http.NewRequestWithContext(ctx, slip.Method, url, strings.NewReader(string(slip.RawBody)))
	if err != nil {
		return nil, fmt.Errorf("dispatch: build request: %w", err)
	}
	for k, v := range outboundHeaders(slip.Headers, t.BackendKey) {
		req.Header.Set(k, v)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: issue request: %w", err)
	}

	slip.AOAIRoundtripTimeMS = time.Now().UnixMilli() - slip.AOAIRequestStartTimeMS

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		Body:        resp.Body,
		IsStreaming: isEventStream(headers["Content-Type"]),
		Target:      t,
	}, nil
}

func (d *Dispatcher) issueMock(t *registry.Target, slip *routingslip.Slip) (*UpstreamResponse, error) {
	if t.Mock.DelayMilliseconds > 0 {
		time.Sleep(time.Duration(t.Mock.DelayMilliseconds) * time.Millisecond)
	}
	slip.AOAIRoundtripTimeMS = time.Now().UnixMilli() - slip.AOAIRequestStartTimeMS

	body, err := encodeJSON(t.Mock.JSON)
	if err != nil {
		return nil, err
	}
	return &UpstreamResponse{
		StatusCode:  http.StatusOK,
		Headers:     map[string]string{"Content-Type": "application/json"},
		Body:        io.NopCloser(strings.NewReader(string(body))),
		IsStreaming: false,
		Target:      t,
	}, nil
}

// isEventStream reports whether content-type is exactly "text/event-stream"
// (ignoring surrounding whitespace), matching the spec's literal equality
// check rather than a substring match — a vendor content-type that merely
// contains "text/event-stream" as part of a longer value must not trigger
// the streaming forwarder.
func isEventStream(contentType string) bool {
	return strings.TrimSpace(contentType) == "text/event-stream"
}

// rewritePath replaces the "/deployments/<requested>" path segment with
// "/deployments/<standin>" for virtual-deployment-standin targets; flat
// endpoint targets pass the path through unchanged.
func rewritePath(path string, t *registry.Target) string {
	if t.Kind != registry.KindVirtualDeploymentStandin {
		return path
	}
	marker := "/deployments/" + t.VirtualDeployment
	if !strings.Contains(path, marker) {
		return path
	}
	return strings.Replace(path, marker, "/deployments/"+t.Standin, 1)
}

func querySuffix(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

// outboundHeaders drops Host/Content-Length and swaps the api-key credential
// for the target's backend key, per spec §4.1. Absent a backend key, api-key
// is removed entirely so a bearer Authorization header passes through.
func outboundHeaders(inbound map[string]string, backendKey string) map[string]string {
	out := make(map[string]string, len(inbound))
	for k, v := range inbound {
		lk := strings.ToLower(k)
		if lk == "host" || lk == "content-length" || lk == "api-key" {
			continue
		}
		out[k] = v
	}
	if backendKey != "" {
		out["api-key"] = backendKey
	}
	return out
}

func (d *Dispatcher) recordAttempt(target, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordDispatchAttempt(target, outcome)
}

func (d *Dispatcher) clearBlocked(target string) {
	if d.metrics == nil {
		return
	}
	d.metrics.ClearBlocked(target)
}

func (d *Dispatcher) recordBackoff(target, reason string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordBackoff(target, reason)
}

func parseRetryAfterMS(headers map[string]string, fallback int64) int64 {
	for k, v := range headers {
		if strings.EqualFold(k, "retry-after-ms") {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				return ms
			}
		}
	}
	return fallback
}
