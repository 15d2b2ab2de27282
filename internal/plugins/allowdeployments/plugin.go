// Package allowdeployments implements the AllowDeployments gate (spec §4.5):
// on_client_identified, reject requests targeting a virtual deployment the
// client is not permitted to use.
package allowdeployments

import (
	"fmt"

	"github.com/nulpointcorp/powerproxy/internal/config"
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
	"github.com/nulpointcorp/powerproxy/pkg/respond"
)

// Plugin is the AllowDeployments gate. It embeds pluginbus.Noop so only
// OnClientIdentified needs an implementation.
type Plugin struct {
	pluginbus.Noop

	allowLists map[string]*allowList // client name -> allow list
	configured map[string]bool       // client name -> deployments_allowed was present
}

// New builds the plugin's per-client allow lists from the configuration
// view. Clients with no deployments_allowed entry are recorded as
// unconfigured; they are rejected with a 500 the first time they are
// identified, per spec §4.5.
func New(view *config.View) *Plugin {
	p := &Plugin{
		allowLists: make(map[string]*allowList),
		configured: make(map[string]bool),
	}
	for _, c := range view.Clients() {
		if len(c.DeploymentsAllowed) == 0 {
			p.configured[c.Name] = false
			continue
		}
		al, _ := newAllowList(c.DeploymentsAllowed)
		p.allowLists[c.Name] = al
		p.configured[c.Name] = true
	}
	return p
}

func (p *Plugin) Name() string { return "AllowDeployments" }

func (p *Plugin) OnClientIdentified(slip *routingslip.Slip) error {
	configured, known := p.configured[slip.Client]
	if !known || !configured {
		return respond.DeploymentMisconfigured(fmt.Sprintf(
			"Client %q misses deployments_allowed configuration for plugin AllowDeployments.", slip.Client,
		))
	}

	al := p.allowLists[slip.Client]
	if al == nil || !al.allows(slip.VirtualDeployment) {
		return respond.Unauthorized(fmt.Sprintf(
			"Access to requested deployment %q is denied for client %q.", slip.VirtualDeployment, slip.Client,
		))
	}
	return nil
}
