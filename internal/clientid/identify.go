// Package clientid implements ClientIdentifier: resolving an inbound request
// to a proxy-internal client name (or rejecting it outright).
package clientid

import (
	"github.com/nulpointcorp/powerproxy/internal/config"
	"github.com/nulpointcorp/powerproxy/pkg/respond"
)

// Identifier resolves api-key/authorization headers to a client name.
type Identifier struct {
	view *config.View
}

// New builds an Identifier bound to the given configuration view.
func New(view *config.View) *Identifier {
	return &Identifier{view: view}
}

// Identify returns the resolved client name, or an *respond.ImmediateResponse
// (401) if an api-key header was supplied but did not match any configured
// client. A request with no recognised credential resolves to "" and is
// allowed to proceed — downstream plugins decide whether that is acceptable.
func (id *Identifier) Identify(apiKey, authorization string) (string, error) {
	if apiKey != "" {
		c, ok := id.view.ClientByKey(apiKey)
		if !ok {
			return "", respond.Unauthorized("Unknown api-key provided.")
		}
		return c.Name, nil
	}

	if authorization != "" {
		if c, ok := id.view.EntraIDClient(); ok {
			return c.Name, nil
		}
		return "", nil
	}

	return "", nil
}
