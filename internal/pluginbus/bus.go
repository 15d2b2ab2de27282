// Package pluginbus implements the PluginBus: an ordered list of plugin
// instances that fan out lifecycle events to each plugin in turn. Plugins
// are modelled as a flat interface plus composition (see the tokencounting
// package for the shared mixin), never as a deep inheritance hierarchy. A
// plugin that raises a *respond.ImmediateResponse aborts the remaining
// plugins for that event and the rest of the request.
package pluginbus

import "github.com/nulpointcorp/powerproxy/internal/routingslip"

// Plugin is the full lifecycle hook surface. Embed Noop to get no-op
// defaults for every hook a given plugin does not care about.
type Plugin interface {
	Name() string
	OnPluginInstantiated()
	OnPrintConfiguration()
	OnNewRequestReceived(slip *routingslip.Slip) error
	OnClientIdentified(slip *routingslip.Slip) error
	OnHeadersFromTargetReceived(slip *routingslip.Slip) error
	OnBodyDictFromTargetAvailable(slip *routingslip.Slip) error
	OnDataEventFromTargetReceived(slip *routingslip.Slip, payload string) error
	OnEndOfTargetResponseStreamReached(slip *routingslip.Slip) error
}

// Noop implements every Plugin hook as a no-op. Embed it in a concrete
// plugin and override only the hooks that plugin needs.
type Noop struct{}

func (Noop) OnPluginInstantiated()                                         {}
func (Noop) OnPrintConfiguration()                                         {}
func (Noop) OnNewRequestReceived(*routingslip.Slip) error                  { return nil }
func (Noop) OnClientIdentified(*routingslip.Slip) error                   { return nil }
func (Noop) OnHeadersFromTargetReceived(*routingslip.Slip) error          { return nil }
func (Noop) OnBodyDictFromTargetAvailable(*routingslip.Slip) error        { return nil }
func (Noop) OnDataEventFromTargetReceived(*routingslip.Slip, string) error { return nil }
func (Noop) OnEndOfTargetResponseStreamReached(*routingslip.Slip) error    { return nil }

// Bus holds the ordered plugin list constructed at startup and fans out
// lifecycle events to each plugin in declared order.
type Bus struct {
	plugins []Plugin
}

// New builds a Bus over plugins, preserving their given order — the same
// order in which events fire for every lifecycle stage.
func New(plugins []Plugin) *Bus {
	return &Bus{plugins: plugins}
}

// Plugins returns the ordered plugin list.
func (b *Bus) Plugins() []Plugin { return b.plugins }

// FireStartup invokes on_plugin_instantiated then on_print_configuration on
// every plugin, in order. Called once at process startup, no slip involved.
func (b *Bus) FireStartup() {
	for _, p := range b.plugins {
		p.OnPluginInstantiated()
	}
	for _, p := range b.plugins {
		p.OnPrintConfiguration()
	}
}

func (b *Bus) FireNewRequestReceived(slip *routingslip.Slip) error {
	for _, p := range b.plugins {
		if err := p.OnNewRequestReceived(slip); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) FireClientIdentified(slip *routingslip.Slip) error {
	for _, p := range b.plugins {
		if err := p.OnClientIdentified(slip); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) FireHeadersFromTargetReceived(slip *routingslip.Slip) error {
	for _, p := range b.plugins {
		if err := p.OnHeadersFromTargetReceived(slip); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) FireBodyDictFromTargetAvailable(slip *routingslip.Slip) error {
	for _, p := range b.plugins {
		if err := p.OnBodyDictFromTargetAvailable(slip); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) FireDataEventFromTargetReceived(slip *routingslip.Slip, payload string) error {
	for _, p := range b.plugins {
		if err := p.OnDataEventFromTargetReceived(slip, payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) FireEndOfTargetResponseStreamReached(slip *routingslip.Slip) error {
	for _, p := range b.plugins {
		if err := p.OnEndOfTargetResponseStreamReached(slip); err != nil {
			return err
		}
	}
	return nil
}
