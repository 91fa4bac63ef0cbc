package config

import (
	"fmt"
	"time"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string `json:"backend"`
	URL      string `json:"url"`
	MaxConns int32  `json:"max_conns"`
	// Fixtures is a YAML dataset file loaded into the memory backend at start.
	Fixtures string `json:"fixtures"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "postgres":
		if c.URL == "" {
			return fmt.Errorf("store: url is required for postgres")
		}
	default:
		return fmt.Errorf("store: unknown backend %s", c.Backend)
	}
	return nil
}

// PresenceConfig selects how station liveness is tracked.
type PresenceConfig struct {
	// Backend is "always", "memory" or "redis".
	Backend    string `json:"backend"`
	RedisURL   string `json:"redis_url"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (c *PresenceConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "always"
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 300
	}
}

func (c PresenceConfig) Validate() error {
	switch c.Backend {
	case "always", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("presence: redis_url is required for redis")
		}
	default:
		return fmt.Errorf("presence: unknown backend %s", c.Backend)
	}
	return nil
}

func (c PresenceConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
