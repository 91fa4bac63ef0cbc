package main

import (
	"fmt"
	"strings"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker            string
	TopicRoot         string
	TenantID          string
	Endpoint          string
	Count             int
	Prefix            string
	Connectors        int
	Version           string
	AckLatency        time.Duration
	DropRate          float64
	RejectRate        float64
	HeartbeatInterval time.Duration
	Verbose           bool
}

// Validate checks rates and sizes.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if c.Connectors <= 0 {
		return fmt.Errorf("connectors must be positive")
	}
	if c.DropRate < 0 || c.DropRate > 1 || c.RejectRate < 0 || c.RejectRate > 1 {
		return fmt.Errorf("rates must be within [0,1]")
	}
	if strings.ContainsAny(c.TopicRoot, "+#") {
		return fmt.Errorf("topic root must not contain wildcards")
	}
	if c.Version != "1.5" && c.Version != "1.6" {
		return fmt.Errorf("unsupported ocpp version %s", c.Version)
	}
	return nil
}

// endpointURL is the URL stations report in their To header. The gateway
// reads the tenant from it.
func (c *Config) endpointURL() string {
	sep := "?"
	if strings.Contains(c.Endpoint, "?") {
		sep = "&"
	}
	return c.Endpoint + sep + "tenantid=" + c.TenantID
}
