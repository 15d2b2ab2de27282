package logusage

import (
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/plugins/tokencounting"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
)

// Plugin fires OnCounts once per request and forwards a Record to every
// configured Sink. It holds no per-request state of its own; all of that
// lives on the Slip via the embedded tokencounting.Mixin.
type Plugin struct {
	pluginbus.Noop

	mixin tokencounting.Mixin
	sinks []Sink
}

func New(sinks ...Sink) *Plugin {
	p := &Plugin{sinks: sinks}
	p.mixin.OnCounts = p.onCounts
	return p
}

func (p *Plugin) Name() string { return "LogUsage" }

func (p *Plugin) OnNewRequestReceived(slip *routingslip.Slip) error {
	p.mixin.OnNewRequestReceived(slip)
	return nil
}

func (p *Plugin) OnHeadersFromTargetReceived(slip *routingslip.Slip) error {
	for k, v := range slip.HeadersFromTarget {
		if equalFoldRegion(k) {
			slip.AOAIRegion = v
			break
		}
	}
	return nil
}

func (p *Plugin) OnBodyDictFromTargetAvailable(slip *routingslip.Slip) error {
	p.mixin.OnBodyDictFromTargetAvailable(slip)
	return nil
}

func (p *Plugin) OnDataEventFromTargetReceived(slip *routingslip.Slip, _ string) error {
	p.mixin.OnDataEventFromTargetReceived(slip)
	return nil
}

func (p *Plugin) OnEndOfTargetResponseStreamReached(slip *routingslip.Slip) error {
	p.mixin.OnEndOfTargetResponseStreamReached(slip)
	return nil
}

func (p *Plugin) onCounts(slip *routingslip.Slip) {
	rec := Record{
		RequestID:             slip.RequestID,
		Timestamp:             slip.RequestReceivedUTC,
		Client:                slip.Client,
		AOAIEndpoint:          slip.AOAIEndpoint,
		AOAIVirtualDeployment: slip.AOAIVirtualDeployment,
		AOAIStandinDeployment: slip.AOAIStandinDeployment,
		AOAIRegion:            slip.AOAIRegion,
		Method:                slip.Method,
		Path:                  slip.Path,
		RoundtripTimeMS:       slip.AOAIRoundtripTimeMS,
		IsStreaming:           slip.IsStreaming,
	}
	if slip.PromptTokens != nil {
		rec.PromptTokens = *slip.PromptTokens
	}
	if slip.CompletionTokens != nil {
		rec.CompletionTokens = *slip.CompletionTokens
	}
	if slip.TotalTokens != nil {
		rec.TotalTokens = *slip.TotalTokens
	}

	for _, sink := range p.sinks {
		sink.LogUsage(rec)
	}
}

func equalFoldRegion(header string) bool {
	const want = "x-ms-region"
	if len(header) != len(want) {
		return false
	}
	for i := 0; i < len(header); i++ {
		c := header[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != want[i] {
			return false
		}
	}
	return true
}
