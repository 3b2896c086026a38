package api

import "time"

// Config configures the REST API HTTP server.
type Config struct {
	// BindAddress is the listen address, host:port.
	// Overridable via the BIND_ADDRESS environment variable.
	// Default: ":8080"
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// ReadTimeout is the maximum duration for reading the entire request
	// header. The body is exempt so that large chunk uploads are not cut
	// off. Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 5s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// LoginRateLimit is the per-IP request budget for POST /auth/login
	// within LoginRateWindow. Default: 10 per minute.
	LoginRateLimit  int           `mapstructure:"login_rate_limit" yaml:"login_rate_limit"`
	LoginRateWindow time.Duration `mapstructure:"login_rate_window" yaml:"login_rate_window"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.LoginRateLimit <= 0 {
		c.LoginRateLimit = 10
	}
	if c.LoginRateWindow == 0 {
		c.LoginRateWindow = time.Minute
	}
}
