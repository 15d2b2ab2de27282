package config

import (
	"errors"
	"fmt"
)

// validate checks every semantic invariant from spec §3/§6 and aggregates all
// violations into a single error via errors.Join, so the CLI can report every
// problem at once instead of one at a time.
func (c *Config) validate() error {
	var errs []error

	errs = append(errs, c.validateClients()...)
	errs = append(errs, c.validateEndpoints()...)

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: invalid log level %q; must be one of: debug, info, warn, error", c.LogLevel))
	}

	if len(c.AOAI.Endpoints) == 0 && c.AOAI.MockResponse == nil {
		errs = append(errs, fmt.Errorf("config: aoai.endpoints must declare at least one endpoint, or aoai.mock_response must be set"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateClients() []error {
	var errs []error

	names := make(map[string]struct{}, len(c.Clients))
	keys := make(map[string]string, len(c.Clients))
	entraClients := 0

	for _, cl := range c.Clients {
		if cl.Name == "" {
			errs = append(errs, fmt.Errorf("config: client entry missing required \"name\""))
			continue
		}
		if _, dup := names[cl.Name]; dup {
			errs = append(errs, fmt.Errorf("config: duplicate client name %q", cl.Name))
		}
		names[cl.Name] = struct{}{}

		if cl.Key != "" {
			if owner, dup := keys[cl.Key]; dup {
				errs = append(errs, fmt.Errorf("config: client key reused by %q and %q", owner, cl.Name))
			}
			keys[cl.Key] = cl.Name
		}

		if cl.UsesEntraIDAuth {
			entraClients++
		}
	}

	if entraClients > 1 {
		errs = append(errs, fmt.Errorf("config: at most one client may set uses_entra_id_auth=true, found %d", entraClients))
	}

	return errs
}

// validateEndpoints enforces: the last flat endpoint (no virtual deployments)
// and the last standin within each virtual deployment must have
// non_streaming_fraction == 1 or absent, reserving guaranteed non-streaming
// capacity at the tail of the selection order.
func (c *Config) validateEndpoints() []error {
	var errs []error

	names := make(map[string]struct{}, len(c.AOAI.Endpoints))
	var lastFlat *EndpointConfig

	for i := range c.AOAI.Endpoints {
		ep := &c.AOAI.Endpoints[i]
		if ep.Name == "" {
			errs = append(errs, fmt.Errorf("config: aoai.endpoints[%d] missing required \"name\"", i))
		} else if _, dup := names[ep.Name]; dup {
			errs = append(errs, fmt.Errorf("config: duplicate endpoint name %q", ep.Name))
		}
		names[ep.Name] = struct{}{}

		if ep.URL == "" {
			errs = append(errs, fmt.Errorf("config: endpoint %q missing required \"url\"", ep.Name))
		}

		if len(ep.VirtualDeployments) == 0 {
			lastFlat = ep
			continue
		}

		for _, vd := range ep.VirtualDeployments {
			if len(vd.Standins) == 0 {
				errs = append(errs, fmt.Errorf("config: virtual deployment %q on endpoint %q has no standins", vd.Name, ep.Name))
				continue
			}
			last := vd.Standins[len(vd.Standins)-1]
			if last.NonStreamingFraction != nil && *last.NonStreamingFraction != 1 {
				errs = append(errs, fmt.Errorf(
					"config: last standin %q of virtual deployment %q must have non_streaming_fraction == 1 or absent, got %v",
					last.Name, vd.Name, *last.NonStreamingFraction,
				))
			}
		}
	}

	if lastFlat != nil && lastFlat.NonStreamingFraction != nil && *lastFlat.NonStreamingFraction != 1 {
		errs = append(errs, fmt.Errorf(
			"config: last flat endpoint %q must have non_streaming_fraction == 1 or absent, got %v",
			lastFlat.Name, *lastFlat.NonStreamingFraction,
		))
	}

	return errs
}
