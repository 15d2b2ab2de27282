package registry

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nulpointcorp/powerproxy/internal/config"
)

// connectWriteTimeout is the Dispatcher's 5s upstream connect budget;
// readTimeout is the 120s time-to-first-response-byte budget from spec
// §4.3/§5, not a cap on total body-read duration. They live here because
// the registry constructs the per-target HTTP client that enforces them.
const (
	connectWriteTimeout = 5 * time.Second
	readTimeout         = 120 * time.Second
)

// Registry holds every dispatch Target in declared configuration order —
// iteration order is the Dispatcher's selection priority.
type Registry struct {
	Targets []*Target
}

// Build constructs a Registry from a validated ConfigView. Mock mode (when
// aoai.mock_response is set) registers a single synthetic target and no
// endpoint targets are built from aoai.endpoints.
func Build(v *config.View) (*Registry, error) {
	if mock, ok := v.MockResponse(); ok {
		return &Registry{Targets: []*Target{
			{
				ID:                   "mock",
				Kind:                 KindEndpoint,
				EndpointName:         "mock",
				NonStreamingFraction: 1,
				Mock: &MockSpec{
					JSON:              mock.JSON,
					DelayMilliseconds: mock.MsToWaitBeforeReturn,
				},
			},
		}}, nil
	}

	var targets []*Target
	for _, ep := range v.Endpoints() {
		client := newHTTPClient()

		if len(ep.VirtualDeployments) == 0 {
			targets = append(targets, &Target{
				ID:                   ep.Name,
				Kind:                 KindEndpoint,
				EndpointName:         ep.Name,
				BaseURL:              ep.URL,
				BackendKey:           ep.Key,
				NonStreamingFraction: fractionOrDefault(ep.NonStreamingFraction),
				HTTPClient:           client,
			})
			continue
		}

		for _, vd := range ep.VirtualDeployments {
			for _, standin := range vd.Standins {
				targets = append(targets, &Target{
					ID:                   fmt.Sprintf("%s@%s@%s", standin.Name, vd.Name, ep.Name),
					Kind:                 KindVirtualDeploymentStandin,
					EndpointName:         ep.Name,
					VirtualDeployment:    vd.Name,
					Standin:              standin.Name,
					BaseURL:              ep.URL,
					BackendKey:           ep.Key,
					NonStreamingFraction: fractionOrDefault(standin.NonStreamingFraction),
					HTTPClient:           client,
				})
			}
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("registry: no dispatch targets configured")
	}

	return &Registry{Targets: targets}, nil
}

func fractionOrDefault(f *float64) float64 {
	if f == nil {
		return 1
	}
	return *f
}

// Close releases every target's idle HTTP connections.
func (r *Registry) Close() {
	seen := make(map[*http.Client]struct{})
	for _, t := range r.Targets {
		if t.HTTPClient == nil {
			continue
		}
		if _, ok := seen[t.HTTPClient]; ok {
			continue
		}
		seen[t.HTTPClient] = struct{}{}
		t.HTTPClient.CloseIdleConnections()
	}
}

// newHTTPClient intentionally leaves Client.Timeout unset: that field bounds
// connect *and* the entire response body read combined, which would cut off
// a legitimately long-running streaming completion. The 5s connect budget
// lives on the dialer, the 120s budget on ResponseHeaderTimeout (time to
// first byte of the response), and body reads are otherwise unbounded, the
// same split the original's httpx.Timeout(5.0, read=120.0) makes.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connectWriteTimeout}).DialContext,
			TLSHandshakeTimeout:   connectWriteTimeout,
			ResponseHeaderTimeout: readTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   64,
		},
	}
}
