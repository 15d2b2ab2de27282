package config

import "testing"

func TestViewClientByKey(t *testing.T) {
	cfg := &Config{
		Clients: []Client{
			{Name: "alice", Key: "alice-key"},
			{Name: "bob", Key: "bob-key"},
		},
	}
	v := NewView(cfg)

	c, ok := v.ClientByKey("alice-key")
	if !ok || c.Name != "alice" {
		t.Fatalf("ClientByKey(alice-key) = %+v, %v", c, ok)
	}

	_, ok = v.ClientByKey("nonexistent")
	if ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestViewClientByName(t *testing.T) {
	cfg := &Config{Clients: []Client{{Name: "alice", Key: "alice-key"}}}
	v := NewView(cfg)

	c, ok := v.ClientByName("alice")
	if !ok || c.Key != "alice-key" {
		t.Fatalf("ClientByName(alice) = %+v, %v", c, ok)
	}

	_, ok = v.ClientByName("nonexistent")
	if ok {
		t.Fatal("expected miss for unknown name")
	}
}

func TestViewEntraIDClient(t *testing.T) {
	cfg := &Config{Clients: []Client{
		{Name: "alice", Key: "alice-key"},
		{Name: "svc", UsesEntraIDAuth: true},
	}}
	v := NewView(cfg)

	c, ok := v.EntraIDClient()
	if !ok || c.Name != "svc" {
		t.Fatalf("EntraIDClient() = %+v, %v", c, ok)
	}
}

func TestViewEntraIDClientAbsent(t *testing.T) {
	cfg := &Config{Clients: []Client{{Name: "alice", Key: "alice-key"}}}
	v := NewView(cfg)

	_, ok := v.EntraIDClient()
	if ok {
		t.Fatal("expected no entra id client")
	}
}

func TestViewMockResponseAbsent(t *testing.T) {
	v := NewView(&Config{})
	if _, ok := v.MockResponse(); ok {
		t.Fatal("expected no mock response")
	}
}

func TestViewMockResponsePresent(t *testing.T) {
	cfg := &Config{AOAI: AOAIConfig{MockResponse: &MockResponseConfig{
		JSON: map[string]any{"id": "mock"},
	}}}
	v := NewView(cfg)

	mr, ok := v.MockResponse()
	if !ok || mr.JSON["id"] != "mock" {
		t.Fatalf("MockResponse() = %+v, %v", mr, ok)
	}
}

func TestViewAccessors(t *testing.T) {
	cfg := &Config{
		Port:        8080,
		LogLevel:    "debug",
		MetricsAddr: ":9090",
		Plugins:     []PluginConfig{{Name: "AllowDeployments"}},
		AOAI:        AOAIConfig{Endpoints: []EndpointConfig{{Name: "primary"}}},
	}
	v := NewView(cfg)

	if v.Port() != 8080 {
		t.Fatalf("Port() = %d, want 8080", v.Port())
	}
	if v.LogLevel() != "debug" {
		t.Fatalf("LogLevel() = %q, want debug", v.LogLevel())
	}
	if v.MetricsAddr() != ":9090" {
		t.Fatalf("MetricsAddr() = %q, want :9090", v.MetricsAddr())
	}
	if len(v.Plugins()) != 1 || v.Plugins()[0].Name != "AllowDeployments" {
		t.Fatalf("Plugins() = %+v", v.Plugins())
	}
	if len(v.Endpoints()) != 1 || v.Endpoints()[0].Name != "primary" {
		t.Fatalf("Endpoints() = %+v", v.Endpoints())
	}
}
