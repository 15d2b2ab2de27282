package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nulpointcorp/powerproxy/internal/config"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Port:     8080,
		LogLevel: "info",
		Clients:  []config.Client{{Name: "alice", Key: "alice-key"}},
		AOAI: config.AOAIConfig{
			MockResponse: &config.MockResponseConfig{JSON: map[string]any{"id": "mock-1"}},
		},
	}
}

func TestNewRejectsNilContext(t *testing.T) {
	_, err := New(nil, minimalConfig(), slog.Default(), "test")
	if err == nil {
		t.Fatal("expected an error for a nil context")
	}
}

func TestNewWiresSubsystemsInMockMode(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), slog.Default(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.reg == nil || len(a.reg.Targets) != 1 {
		t.Fatalf("expected exactly one mock target, got %+v", a.reg)
	}
	if a.bus == nil {
		t.Fatal("expected a non-nil plugin bus")
	}
	if a.identifier == nil {
		t.Fatal("expected a non-nil client identifier")
	}
	if a.dispatcher == nil {
		t.Fatal("expected a non-nil dispatcher")
	}
	if a.prom == nil {
		t.Fatal("expected a non-nil metrics registry")
	}
	if a.access == nil {
		t.Fatal("expected a non-nil access logger")
	}
	if a.srv == nil {
		t.Fatal("expected a non-nil server")
	}
}

func TestNewPropagatesRegistryFailure(t *testing.T) {
	cfg := minimalConfig()
	cfg.AOAI.MockResponse = nil // no mock and no endpoints -> no targets

	_, err := New(context.Background(), cfg, slog.Default(), "test")
	if err == nil {
		t.Fatal("expected an error when no dispatch targets are configured")
	}
}

func TestNewPropagatesUnknownPluginFailure(t *testing.T) {
	cfg := minimalConfig()
	cfg.Plugins = []config.PluginConfig{{Name: "NotARealPlugin"}}

	_, err := New(context.Background(), cfg, slog.Default(), "test")
	if err == nil {
		t.Fatal("expected an error for an unknown plugin name")
	}
}

func TestNewBuildsConfiguredPluginChain(t *testing.T) {
	cfg := minimalConfig()
	cfg.Clients[0].MaxTokensPerMinuteInK = floatPtr(10)
	cfg.Plugins = []config.PluginConfig{
		{Name: "AllowDeployments"},
		{Name: "LimitUsage"},
		{Name: "LogUsage"},
	}

	a, err := New(context.Background(), cfg, slog.Default(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if len(a.bus.Plugins()) != 3 {
		t.Fatalf("expected 3 plugins wired, got %d", len(a.bus.Plugins()))
	}
}

func TestCloseIsSafeToCallTwice(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), slog.Default(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a.Close()
	a.Close() // must not panic
}

func TestNewFailureReturnsNilAppAfterPartialInit(t *testing.T) {
	cfg := minimalConfig()
	cfg.Plugins = []config.PluginConfig{{Name: "NotARealPlugin"}}

	// registry init succeeds before plugin init fails; New returns the
	// error and no App.
	a, err := New(context.Background(), cfg, slog.Default(), "test")
	if err == nil {
		t.Fatal("expected an error")
	}
	if a != nil {
		t.Fatal("expected a nil App on failure")
	}
}

func floatPtr(f float64) *float64 { return &f }
