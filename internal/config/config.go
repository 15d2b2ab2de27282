// Package config loads and validates the proxy's YAML configuration: the
// client table, the ordered plugin list, and the AOAI endpoint/virtual
// deployment/standin topology. Configuration is read from one of
// --config-file, --config-env-var, or --config-string (exactly one is
// required); a handful of ambient settings (port, log level, metrics bind
// address) are environment-overridable via spf13/viper the way the rest of
// this dependency family does it, and .env files are supported via
// subosito/gotenv for local secret injection.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully validated, in-memory configuration snapshot. Construct
// one with Load; do not build it by hand outside of tests.
type Config struct {
	Port        int
	LogLevel    string
	MetricsAddr string

	Clients []Client
	Plugins []PluginConfig
	AOAI    AOAIConfig
}

// Client mirrors the spec's client table entry.
type Client struct {
	Name                  string     `yaml:"name"`
	Key                   string     `yaml:"key,omitempty"`
	UsesEntraIDAuth       bool       `yaml:"uses_entra_id_auth,omitempty"`
	DeploymentsAllowed    StringList `yaml:"deployments_allowed,omitempty"`
	MaxTokensPerMinuteInK *float64   `yaml:"max_tokens_per_minute_in_k,omitempty"`
}

// PluginConfig is one entry of the ordered plugins[] list. Name selects the
// plugin implementation; Settings carries whatever plugin-specific keys the
// document declares alongside name.
type PluginConfig struct {
	Name     string
	Settings map[string]any
}

// UnmarshalYAML lets a plugin entry carry arbitrary plugin-specific keys
// alongside "name", mirroring the original's dynamic plugin configuration
// dict instead of a fixed struct per plugin.
func (p *PluginConfig) UnmarshalYAML(node *yaml.Node) error {
	raw := map[string]any{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return fmt.Errorf("plugin entry missing required \"name\"")
	}
	delete(raw, "name")
	p.Name = name
	p.Settings = raw
	return nil
}

// AOAIConfig is the aoai.* section: the backend topology and optional mock.
type AOAIConfig struct {
	Endpoints    []EndpointConfig     `yaml:"endpoints"`
	MockResponse *MockResponseConfig  `yaml:"mock_response,omitempty"`
}

// EndpointConfig is one aoai.endpoints[] entry.
type EndpointConfig struct {
	Name                 string                    `yaml:"name"`
	URL                  string                    `yaml:"url"`
	Key                  string                    `yaml:"key,omitempty"`
	NonStreamingFraction *float64                  `yaml:"non_streaming_fraction,omitempty"`
	VirtualDeployments   []VirtualDeploymentConfig `yaml:"virtual_deployments,omitempty"`
}

// VirtualDeploymentConfig declares one virtual deployment name and its
// ordered standins.
type VirtualDeploymentConfig struct {
	Name     string          `yaml:"name"`
	Standins []StandinConfig `yaml:"standins"`
}

// StandinConfig is one real backend deployment name behind a virtual
// deployment.
type StandinConfig struct {
	Name                 string   `yaml:"name"`
	NonStreamingFraction *float64 `yaml:"non_streaming_fraction,omitempty"`
}

// MockResponseConfig switches the EndpointRegistry into mock mode: a single
// synthetic target returning a fixed JSON body.
type MockResponseConfig struct {
	JSON                 map[string]any `yaml:"json"`
	MsToWaitBeforeReturn int            `yaml:"ms_to_wait_before_return,omitempty"`
}

// StringList accepts either a YAML list of strings or a single
// comma-separated string, matching the original's "deployments_allowed" field
// which callers may author either way.
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	case yaml.ScalarNode:
		var str string
		if err := node.Decode(&str); err != nil {
			return err
		}
		parts := strings.Split(str, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("deployments_allowed: unsupported YAML node kind %v", node.Kind)
	}
}

// Options carries the CLI-resolved configuration source and overrides.
type Options struct {
	ConfigFile   string
	ConfigEnvVar string
	ConfigString string
	Port         int // 0 means "use default/env value"
}

// Load resolves exactly one configuration source from opts, parses it, layers
// ambient environment-overridable settings on top, and validates the result.
func Load(opts Options) (*Config, error) {
	_ = loadDotEnv(".env")

	raw, err := resolveSource(opts)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Clients []Client       `yaml:"clients"`
		Plugins []PluginConfig `yaml:"plugins"`
		AOAI    AOAIConfig     `yaml:"aoai"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	v := viper.New()
	v.SetDefault("PORT", 80)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Port:        v.GetInt("PORT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		MetricsAddr: v.GetString("METRICS_ADDR"),
		Clients:     doc.Clients,
		Plugins:     doc.Plugins,
		AOAI:        doc.AOAI,
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSource picks exactly one of the three configuration sources. Exactly
// one must be set; this mirrors the original's from_args dispatch.
func resolveSource(opts Options) ([]byte, error) {
	set := 0
	if opts.ConfigFile != "" {
		set++
	}
	if opts.ConfigEnvVar != "" {
		set++
	}
	if opts.ConfigString != "" {
		set++
	}
	switch {
	case set == 0:
		return nil, fmt.Errorf("config: one of --config-file, --config-env-var, or --config-string is required")
	case set > 1:
		return nil, fmt.Errorf("config: only one of --config-file, --config-env-var, or --config-string may be given")
	}

	switch {
	case opts.ConfigFile != "":
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
		return data, nil
	case opts.ConfigEnvVar != "":
		val, ok := os.LookupEnv(opts.ConfigEnvVar)
		if !ok || val == "" {
			return nil, fmt.Errorf("config: environment variable %s is not set", opts.ConfigEnvVar)
		}
		return []byte(val), nil
	default:
		return []byte(opts.ConfigString), nil
	}
}

func loadDotEnv(path string) error {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil
	}
	return gotenv.Load(path)
}
