// Package routingslip defines the per-request mutable record that is
// threaded through the proxy pipeline. It is the sole channel of
// communication between the server, the dispatcher, and the plugin bus —
// no slip is ever shared between requests.
package routingslip

import "time"

// Slip carries everything observed about one in-flight request. Fields are
// populated incrementally as the request moves through the pipeline; a
// component mutates only the fields relevant to its own stage.
type Slip struct {
	RequestID string

	// Inbound request, captured once at the top of the pipeline.
	Method  string
	Path    string
	Query   string
	Headers map[string]string
	RawBody []byte

	// BodyJSON is the parsed JSON body, or nil if parsing failed or the body
	// was empty. JSON parse failure is tolerated, never fatal.
	BodyJSON map[string]any

	// VirtualDeployment is the path segment following "/deployments/", or ""
	// if the path carries no such segment.
	VirtualDeployment string

	// IsNonStreamingResponseRequested is derived from BodyJSON["stream"].
	IsNonStreamingResponseRequested bool

	RequestReceivedUTC time.Time

	// Client is the resolved proxy-internal client name, or "" if the
	// request carried no recognised credential.
	Client string

	// Target fields, set once the Dispatcher has chosen a target.
	AOAIEndpoint          string
	AOAIVirtualDeployment string
	AOAIStandinDeployment string

	AOAIRequestStartTimeMS int64
	AOAIRoundtripTimeMS    int64

	// HeadersFromTarget holds the upstream response headers, set once
	// on_headers_from_target_received fires.
	HeadersFromTarget map[string]string

	// AOAIRegion is captured from the target's x-ms-region response header,
	// when present.
	AOAIRegion string

	// BodyDictFromTarget holds the parsed upstream JSON body for buffered
	// (non-streaming) responses only.
	BodyDictFromTarget map[string]any

	// IsStreaming is true once the upstream content-type is known to be
	// text/event-stream.
	IsStreaming bool

	// Token-counting state (TokenCounting mixin, spec §4.6). Pointers so a
	// still-null count is distinguishable from a known zero.
	PromptTokens             *int
	CompletionTokens         *int
	TotalTokens              *int
	StreamingCompletionTokens int
}

// New creates a Slip for an inbound request, stamping the receive time.
func New(requestID, method, path, query string, headers map[string]string, body []byte) *Slip {
	return &Slip{
		RequestID:          requestID,
		Method:             method,
		Path:               path,
		Query:              query,
		Headers:            headers,
		RawBody:            body,
		RequestReceivedUTC: time.Now().UTC(),
	}
}

// Header returns the inbound header value for key, matched case-insensitively.
func (s *Slip) Header(key string) string {
	for k, v := range s.Headers {
		if len(k) == len(key) && equalFold(k, key) {
			return v
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
