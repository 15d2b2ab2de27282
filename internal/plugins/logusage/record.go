// Package logusage implements the LogUsage family of sinks (spec §4.8):
// a shared token-counting source feeding one or more durable usage-record
// destinations (console, CSV, ClickHouse).
package logusage

import "time"

// Record is one completed request's usage summary, handed to every
// configured Sink once token counts are final.
type Record struct {
	RequestID string
	Timestamp time.Time

	Client                string
	AOAIEndpoint          string
	AOAIVirtualDeployment string
	AOAIStandinDeployment string
	AOAIRegion            string

	Method string
	Path   string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	RoundtripTimeMS int64
	IsStreaming     bool
}

// Sink durably records a usage Record. Implementations must not block the
// request path on slow downstreams; they are expected to buffer internally.
type Sink interface {
	Name() string
	LogUsage(rec Record)
	Close() error
}
