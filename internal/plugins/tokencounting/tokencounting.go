// Package tokencounting implements the shared TokenCounting behavior that
// LimitUsage and the LogUsage sinks both need: computing prompt/completion/
// total token counts from either vendor-reported usage (buffered responses)
// or streaming chunk counts plus prompt estimation (streaming responses).
//
// This is deliberately a composable helper, not a base class: a plugin
// embeds Mixin and calls its four hooks from its own lifecycle methods,
// providing an OnCounts callback to react once counts are known. This
// matches spec §9's "plugins as variants, not subclasses" design note.
package tokencounting

import (
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
	"github.com/nulpointcorp/powerproxy/internal/tokens"
)

// Mixin computes token counts for one request. It carries no per-request
// state itself — all counts live on the RoutingSlip, so a single Mixin
// value may be shared (and is, embedded in a plugin singleton) across many
// concurrent requests safely.
type Mixin struct {
	// OnCounts, if set, is invoked once counts become available — after a
	// buffered body's usage block is read, and again after a streaming
	// response completes. Plugins wire their own side effect here (rate
	// limiting, usage logging).
	OnCounts func(slip *routingslip.Slip)
}

// OnNewRequestReceived resets all per-request token fields to null/zero.
func (m Mixin) OnNewRequestReceived(slip *routingslip.Slip) {
	slip.PromptTokens = nil
	slip.CompletionTokens = nil
	slip.TotalTokens = nil
	slip.StreamingCompletionTokens = 0
}

// OnBodyDictFromTargetAvailable reads usage.prompt_tokens/completion_tokens/
// total_tokens from a buffered upstream body (defaulting missing fields to
// 0) and fires OnCounts.
func (m Mixin) OnBodyDictFromTargetAvailable(slip *routingslip.Slip) {
	usage, _ := slip.BodyDictFromTarget["usage"].(map[string]any)

	prompt := intField(usage, "prompt_tokens")
	completion := intField(usage, "completion_tokens")
	total := intField(usage, "total_tokens")

	slip.PromptTokens = &prompt
	slip.CompletionTokens = &completion
	slip.TotalTokens = &total

	if m.OnCounts != nil {
		m.OnCounts(slip)
	}
}

// OnDataEventFromTargetReceived increments the streaming completion-token
// counter by 1 for every data event — including empty-delta chunks, per the
// original's behavior, as resolved for empty-delta chunks in spec §9.
func (m Mixin) OnDataEventFromTargetReceived(slip *routingslip.Slip) {
	slip.StreamingCompletionTokens++
}

// OnEndOfTargetResponseStreamReached estimates prompt tokens from the
// request body, takes the streaming counter as completion tokens, sums
// them, and fires OnCounts.
func (m Mixin) OnEndOfTargetResponseStreamReached(slip *routingslip.Slip) {
	prompt := tokens.EstimateFromRequestBody(slip.BodyJSON)
	completion := slip.StreamingCompletionTokens
	total := prompt + completion

	slip.PromptTokens = &prompt
	slip.CompletionTokens = &completion
	slip.TotalTokens = &total

	if m.OnCounts != nil {
		m.OnCounts(slip)
	}
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
