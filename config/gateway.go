package config

import "time"

// HTTPConfig defines the listen addresses of the HTTP servers.
type HTTPConfig struct {
	OCPIAddr  string `json:"ocpi_addr"`
	AdminAddr string `json:"admin_addr"`
	// AdminToken protects the admin API when set.
	AdminToken               string `json:"admin_token"`
	ReadHeaderTimeoutSeconds int    `json:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `json:"shutdown_timeout_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.OCPIAddr == "" {
		c.OCPIAddr = ":8080"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = ":8081"
	}
	if c.ReadHeaderTimeoutSeconds <= 0 {
		c.ReadHeaderTimeoutSeconds = 5
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 10
	}
}

// ReadHeaderTimeout returns the header read timeout of both servers.
func (c HTTPConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds the graceful shutdown of the servers.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// GatewayConfig tunes command admission and the detached dispatch path.
type GatewayConfig struct {
	// AuthorizationWindowSeconds is how long a remote authorization stays live.
	AuthorizationWindowSeconds int `json:"authorization_window_seconds"`
	DispatchTimeoutSeconds     int `json:"dispatch_timeout_seconds"`
	CallbackTimeoutSeconds     int `json:"callback_timeout_seconds"`
	Workers                    int `json:"workers"`
	QueueSize                  int `json:"queue_size"`
	EventBuffer                int `json:"event_buffer"`
}

func (c *GatewayConfig) SetDefaults() {
	if c.AuthorizationWindowSeconds <= 0 {
		c.AuthorizationWindowSeconds = 120
	}
	if c.DispatchTimeoutSeconds <= 0 {
		c.DispatchTimeoutSeconds = 30
	}
	if c.CallbackTimeoutSeconds <= 0 {
		c.CallbackTimeoutSeconds = 10
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 128
	}
}

func (c GatewayConfig) AuthorizationWindow() time.Duration {
	return time.Duration(c.AuthorizationWindowSeconds) * time.Second
}

func (c GatewayConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

func (c GatewayConfig) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}
