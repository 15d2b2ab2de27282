// Package limitusage implements the LimitUsage rate limiter (spec §4.7): a
// per-client token-bucket reset every UTC minute, decremented once a
// request's total token count is known. It derives its token-counting
// behavior from the tokencounting.Mixin rather than duplicating it.
package limitusage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nulpointcorp/powerproxy/internal/config"
	"github.com/nulpointcorp/powerproxy/internal/kvstore"
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/plugins/tokencounting"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
	"github.com/nulpointcorp/powerproxy/pkg/respond"
)

// clientBucket is the in-process fallback bucket: {minute, remaining},
// guarded by its own mutex so minute-rollover and decrement never race each
// other for the same client. Brief oversubscription under concurrent
// decrements across different requests in the same minute is tolerated by
// design (spec §5).
type clientBucket struct {
	mu        sync.Mutex
	minute    int64
	remaining int
}

// Plugin is the LimitUsage rate limiter.
type Plugin struct {
	pluginbus.Noop

	mixin tokencounting.Mixin

	maxTokens  map[string]int // client name -> configured max tokens per minute
	hasConfig  map[string]bool

	// store, when non-nil, delegates bucket state to an external KVStore
	// (spec §4.7's optional adapter) instead of the local map below.
	store kvstore.KVStore

	mu    sync.RWMutex
	local map[string]*clientBucket
}

// New builds the plugin from per-client max_tokens_per_minute_in_k settings.
// store may be nil, in which case bucket state is held in an in-process map.
func New(view *config.View, store kvstore.KVStore) *Plugin {
	p := &Plugin{
		maxTokens: make(map[string]int),
		hasConfig: make(map[string]bool),
		store:     store,
		local:     make(map[string]*clientBucket),
	}
	p.mixin.OnCounts = p.onCounts

	for _, c := range view.Clients() {
		if c.MaxTokensPerMinuteInK == nil {
			p.hasConfig[c.Name] = false
			continue
		}
		p.hasConfig[c.Name] = true
		p.maxTokens[c.Name] = int(*c.MaxTokensPerMinuteInK * 1000)
	}
	return p
}

func (p *Plugin) Name() string { return "LimitUsage" }

func (p *Plugin) OnNewRequestReceived(slip *routingslip.Slip) error {
	p.mixin.OnNewRequestReceived(slip)
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

func (p *Plugin) OnClientIdentified(slip *routingslip.Slip) error {
	configured, known := p.hasConfig[slip.Client]
	if !known || !configured {
		return respond.DeploymentMisconfigured(fmt.Sprintf(
			"Client %q misses max_tokens_per_minute_in_k configuration for plugin LimitUsage.", slip.Client,
		))
	}
	maxTPM := p.maxTokens[slip.Client]

	minute := time.Now().Unix() / 60
	remaining := p.getOrResetBucket(slip.Client, minute, maxTPM)
	if remaining <= 0 {
		return respond.TooManyRequestsForClient(fmt.Sprintf(
			"Too many requests for client %q. Try again later.", slip.Client,
		))
	}
	return nil
}

// onCounts decrements the client's bucket by the request's total token
// count once it is known. Remaining may go negative; the next request in
// the same minute is rejected.
func (p *Plugin) onCounts(slip *routingslip.Slip) {
	if slip.Client == "" || slip.TotalTokens == nil {
		return
	}
	p.decrement(slip.Client, *slip.TotalTokens)
}

func (p *Plugin) getOrResetBucket(client string, minute int64, maxTPM int) int {
	if p.store != nil {
		return p.kvGetOrReset(client, minute, maxTPM)
	}
	return p.localGetOrReset(client, minute, maxTPM)
}

func (p *Plugin) decrement(client string, totalTokens int) {
	if p.store != nil {
		p.kvDecrement(client, totalTokens)
		return
	}
	p.localDecrement(client, totalTokens)
}

func (p *Plugin) localGetOrReset(client string, minute int64, maxTPM int) int {
	p.mu.Lock()
	b, ok := p.local[client]
	if !ok {
		b = &clientBucket{}
		p.local[client] = b
	}
	p.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.minute != minute {
		b.minute = minute
		b.remaining = maxTPM
	}
	return b.remaining
}

func (p *Plugin) localDecrement(client string, totalTokens int) {
	p.mu.RLock()
	b, ok := p.local[client]
	p.mu.RUnlock()
	if !ok {
		return
	}
	b.mu.Lock()
	b.remaining -= totalTokens
	b.mu.Unlock()
}

func (p *Plugin) kvGetOrReset(client string, minute int64, maxTPM int) int {
	ctx := context.Background()
	minuteKey := fmt.Sprintf("LimitUsage-%s-minute", client)
	budgetKey := fmt.Sprintf("LimitUsage-%s-budget", client)

	storedMinute, haveMinute := p.store.Get(ctx, minuteKey)
	if !haveMinute || parseInt64(storedMinute) != minute {
		_ = p.store.Set(ctx, minuteKey, []byte(strconv.FormatInt(minute, 10)))
		_ = p.store.Set(ctx, budgetKey, []byte(strconv.Itoa(maxTPM)))
		return maxTPM
	}

	stored, ok := p.store.Get(ctx, budgetKey)
	if !ok {
		return maxTPM
	}
	return parseInt(stored)
}

func (p *Plugin) kvDecrement(client string, totalTokens int) {
	ctx := context.Background()
	budgetKey := fmt.Sprintf("LimitUsage-%s-budget", client)

	current, ok := p.store.Get(ctx, budgetKey)
	if !ok {
		return
	}
	remaining := parseInt(current) - totalTokens
	_ = p.store.Set(ctx, budgetKey, []byte(strconv.Itoa(remaining)))
}

func parseInt(b []byte) int {
	n, _ := strconv.Atoi(string(b))
	return n
}

func parseInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
