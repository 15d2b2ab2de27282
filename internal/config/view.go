package config

// View is an immutable, read-only snapshot of validated configuration,
// queried through typed accessors. This replaces the original's
// slash-delimited path lookup ("aoai/endpoints", "clients") — a convenience
// of its source language, not a contract worth preserving in Go.
type View struct {
	cfg *Config

	keyToClient   map[string]Client
	entraIDClient *Client
}

// NewView wraps a validated Config in a View. Callers must only pass a Config
// that has already gone through Load (and therefore validate()).
func NewView(cfg *Config) *View {
	v := &View{cfg: cfg, keyToClient: make(map[string]Client, len(cfg.Clients))}
	for _, c := range cfg.Clients {
		if c.Key != "" {
			v.keyToClient[c.Key] = c
		}
		if c.UsesEntraIDAuth {
			cc := c
			v.entraIDClient = &cc
		}
	}
	return v
}

// Clients returns every configured client, in declared order.
func (v *View) Clients() []Client { return v.cfg.Clients }

// ClientByKey resolves an inbound api-key header to its client.
func (v *View) ClientByKey(key string) (Client, bool) {
	c, ok := v.keyToClient[key]
	return c, ok
}

// ClientByName looks up a client by its unique name.
func (v *View) ClientByName(name string) (Client, bool) {
	for _, c := range v.cfg.Clients {
		if c.Name == name {
			return c, true
		}
	}
	return Client{}, false
}

// EntraIDClient returns the single client configured with
// uses_entra_id_auth=true, if any.
func (v *View) EntraIDClient() (Client, bool) {
	if v.entraIDClient == nil {
		return Client{}, false
	}
	return *v.entraIDClient, true
}

// Plugins returns the ordered plugin configuration list.
func (v *View) Plugins() []PluginConfig { return v.cfg.Plugins }

// Endpoints returns the aoai.endpoints[] topology in declared order.
func (v *View) Endpoints() []EndpointConfig { return v.cfg.AOAI.Endpoints }

// MockResponse returns the aoai.mock_response config, if set.
func (v *View) MockResponse() (MockResponseConfig, bool) {
	if v.cfg.AOAI.MockResponse == nil {
		return MockResponseConfig{}, false
	}
	return *v.cfg.AOAI.MockResponse, true
}

// Port returns the configured listen port.
func (v *View) Port() int { return v.cfg.Port }

// LogLevel returns the configured log level.
func (v *View) LogLevel() string { return v.cfg.LogLevel }

// MetricsAddr returns the configured metrics bind address.
func (v *View) MetricsAddr() string { return v.cfg.MetricsAddr }
