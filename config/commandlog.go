package config

import (
	"fmt"
)

// CommandLogConfig defines settings for command audit log storage and rotation.
type CommandLogConfig struct {
	// Backend selects the store type: "jsonl", "rotating", "sqlite" or "memory".
	Backend string `json:"backend"`
	// Path is the file location of the log store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
	// MaxEntries bounds the memory backend.
	MaxEntries int `json:"max_entries"`
}

// SetDefaults applies sane defaults.
func (c *CommandLogConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" && c.Backend != "memory" {
		c.Path = "commands.log"
	}
}

// Validate checks mandatory fields.
func (c CommandLogConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "rotating", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("command_log: path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("command_log: unknown backend %s", c.Backend)
	}
	return nil
}
