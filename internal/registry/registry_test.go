package registry

import (
	"testing"

	"github.com/nulpointcorp/powerproxy/internal/config"
)

func TestBuildMockModeSingleTarget(t *testing.T) {
	cfg := &config.Config{
		AOAI: config.AOAIConfig{
			MockResponse: &config.MockResponseConfig{
				JSON:                 map[string]any{"id": "mock"},
				MsToWaitBeforeReturn: 50,
			},
		},
	}
	reg, err := Build(config.NewView(cfg))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(reg.Targets) != 1 {
		t.Fatalf("expected exactly one mock target, got %d", len(reg.Targets))
	}
	tgt := reg.Targets[0]
	if tgt.Mock == nil {
		t.Fatal("expected target.Mock to be set in mock mode")
	}
	if tgt.Mock.DelayMilliseconds != 50 {
		t.Fatalf("DelayMilliseconds = %d, want 50", tgt.Mock.DelayMilliseconds)
	}
	if tgt.NonStreamingFraction != 1 {
		t.Fatalf("NonStreamingFraction = %v, want 1", tgt.NonStreamingFraction)
	}
}

func TestBuildFlatEndpoints(t *testing.T) {
	fraction := 0.5
	cfg := &config.Config{
		AOAI: config.AOAIConfig{
			Endpoints: []config.EndpointConfig{
				{Name: "primary", URL: "https://primary.example.com", Key: "key-1", NonStreamingFraction: &fraction},
				{Name: "secondary", URL: "https://secondary.example.com"},
			},
		},
	}
	reg, err := Build(config.NewView(cfg))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(reg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(reg.Targets))
	}

	first := reg.Targets[0]
	if first.ID != "primary" || first.Kind != KindEndpoint {
		t.Fatalf("unexpected first target: %+v", first)
	}
	if first.NonStreamingFraction != 0.5 {
		t.Fatalf("NonStreamingFraction = %v, want 0.5", first.NonStreamingFraction)
	}
	if first.HTTPClient == nil {
		t.Fatal("expected non-nil HTTPClient for a real endpoint")
	}

	second := reg.Targets[1]
	if second.NonStreamingFraction != 1 {
		t.Fatalf("absent fraction should default to 1, got %v", second.NonStreamingFraction)
	}
}

func TestBuildVirtualDeploymentStandins(t *testing.T) {
	cfg := &config.Config{
		AOAI: config.AOAIConfig{
			Endpoints: []config.EndpointConfig{
				{
					Name: "primary",
					URL:  "https://primary.example.com",
					VirtualDeployments: []config.VirtualDeploymentConfig{
						{
							Name: "gpt-4",
							Standins: []config.StandinConfig{
								{Name: "gpt-4-west"},
								{Name: "gpt-4-east"},
							},
						},
					},
				},
			},
		},
	}
	reg, err := Build(config.NewView(cfg))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(reg.Targets) != 2 {
		t.Fatalf("expected 2 standin targets, got %d", len(reg.Targets))
	}

	for _, tgt := range reg.Targets {
		if tgt.Kind != KindVirtualDeploymentStandin {
			t.Fatalf("expected KindVirtualDeploymentStandin, got %v", tgt.Kind)
		}
		if tgt.VirtualDeployment != "gpt-4" {
			t.Fatalf("VirtualDeployment = %q, want gpt-4", tgt.VirtualDeployment)
		}
	}

	want := "gpt-4-west@gpt-4@primary"
	if reg.Targets[0].ID != want {
		t.Fatalf("ID = %q, want %q", reg.Targets[0].ID, want)
	}
}

func TestBuildErrorsOnZeroTargets(t *testing.T) {
	_, err := Build(config.NewView(&config.Config{}))
	if err == nil {
		t.Fatal("expected error when no endpoints and no mock_response are configured")
	}
}

func TestBuildSharesHTTPClientAcrossStandinsOfSameEndpoint(t *testing.T) {
	cfg := &config.Config{
		AOAI: config.AOAIConfig{
			Endpoints: []config.EndpointConfig{
				{
					Name: "primary",
					URL:  "https://primary.example.com",
					VirtualDeployments: []config.VirtualDeploymentConfig{
						{Name: "gpt-4", Standins: []config.StandinConfig{{Name: "a"}, {Name: "b"}}},
					},
				},
			},
		},
	}
	reg, err := Build(config.NewView(cfg))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reg.Targets[0].HTTPClient != reg.Targets[1].HTTPClient {
		t.Fatal("expected standins of the same endpoint to share one HTTP client")
	}

	// Close must not panic when called on a registry with a shared client.
	reg.Close()
}
