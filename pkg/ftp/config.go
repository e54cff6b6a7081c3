package ftp

import (
	"fmt"
	"time"
)

// TimeoutsConfig groups timeout-related configuration for the FTP adapter.
type TimeoutsConfig struct {
	// Command is the maximum duration to wait for a command line on the
	// control socket before the session is treated as idle and closed.
	Command time.Duration `mapstructure:"command" validate:"min=0"`

	// Shutdown is the maximum duration to wait for active sessions to
	// complete during graceful shutdown.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"required,gt=0"`
}

// Config holds configuration for the FTP/FTPS adapter.
//
// Default values (applied by New if zero):
//   - Port: 21
//   - PassivePortLow/High: 0 (ephemeral, OS-assigned)
//   - Timeouts.Command: 5m
//   - Timeouts.Shutdown: 30s
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	Port           int    `mapstructure:"port" validate:"min=0,max=65535"`
	BindAddress    string `mapstructure:"bind_address"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=0"`

	// PassivePortLow/PassivePortHigh restrict the ephemeral port range used
	// by PASV/EPSV. 0/0 means OS-assigned from the full range.
	PassivePortLow  int `mapstructure:"passive_port_low" validate:"min=0,max=65535"`
	PassivePortHigh int `mapstructure:"passive_port_high" validate:"min=0,max=65535"`

	// PassiveAdvertiseAddress is the address reported in 227/229 replies.
	// Needed when the server sits behind NAT. Empty uses the local socket
	// address.
	PassiveAdvertiseAddress string `mapstructure:"passive_advertise_address"`

	// FTPSEnabled turns on AUTH TLS/SSL support. TLSCertFile/TLSKeyFile are
	// required when true.
	FTPSEnabled bool   `mapstructure:"ftps_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// RequireFTPSForLogin refuses USER/PASS over a plaintext connection
	// when true, matching the "530 if FTPS required and not secure" path.
	RequireFTPSForLogin bool `mapstructure:"require_ftps_for_login"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 21
	}
	if c.Timeouts.Command == 0 {
		c.Timeouts.Command = 5 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.PassivePortLow > 0 && c.PassivePortHigh > 0 && c.PassivePortLow > c.PassivePortHigh {
		return fmt.Errorf("invalid passive port range: %d > %d", c.PassivePortLow, c.PassivePortHigh)
	}
	if c.FTPSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("ftps_enabled requires tls_cert_file and tls_key_file")
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid timeouts.shutdown %v: must be > 0", c.Timeouts.Shutdown)
	}
	return nil
}
