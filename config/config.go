package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/roamgate/core/metrics"
	"github.com/kilianp07/roamgate/infra/mqtt"
)

type Config struct {
	// LogLevel is the minimum zerolog level ("debug", "info", ...).
	LogLevel   string           `json:"log_level"`
	HTTP       HTTPConfig       `json:"http"`
	Gateway    GatewayConfig    `json:"gateway"`
	Store      StoreConfig      `json:"store"`
	MQTT       mqtt.Config      `json:"mqtt"`
	Presence   PresenceConfig   `json:"presence"`
	Metrics    metrics.Config   `json:"metrics"`
	CommandLog CommandLogConfig `json:"command_log"`
	Sentry     SentryConfig     `json:"sentry"`
}

// Load reads path (YAML or JSON), applies K_ prefixed environment overrides
// where "__" separates nested keys, then defaults and validation. An empty
// path only reads the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.HTTP.SetDefaults()
	c.Gateway.SetDefaults()
	c.Store.SetDefaults()
	c.Presence.SetDefaults()
	c.CommandLog.SetDefaults()
	c.Sentry.SetDefaults()
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
}

// Validate checks every section. The MQTT section is only checked when a
// broker is configured.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Presence.Validate(); err != nil {
		return err
	}
	if err := c.CommandLog.Validate(); err != nil {
		return err
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	return nil
}
