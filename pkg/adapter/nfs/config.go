package nfs

import "time"

// SessionConfig tunes the NFS session table and its caches.
type SessionConfig struct {
	// IOTimer is how long an open-file cache entry stays open without
	// activity before the reaper starts closing it.
	IOTimer time.Duration `mapstructure:"io_timer" validate:"required"`

	// CloseTimer is how long a closed cache entry is kept before the reaper
	// removes it; a closed entry is not reused.
	CloseTimer time.Duration `mapstructure:"close_timer" validate:"required"`

	// SearchHandlesDefault/Max bound the per-session active-search-slot table.
	SearchHandlesDefault int `mapstructure:"search_handles_default"`
	SearchHandlesMax     int `mapstructure:"search_handles_max"`
}

// Config holds NFS adapter configuration.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is shared by both the TCP and UDP listeners (standard NFS port 2049).
	Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
	BindAddress    string `mapstructure:"bind_address"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=0"`

	// VersionLow/VersionHigh bound the RPC versions advertised for the NFS
	// program; out-of-range calls get PROG_MISMATCH(low,high).
	VersionLow  uint32 `mapstructure:"version_low"`
	VersionHigh uint32 `mapstructure:"version_high"`

	Session SessionConfig `mapstructure:"session"`

	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 2049
	}
	if c.VersionLow == 0 && c.VersionHigh == 0 {
		c.VersionLow, c.VersionHigh = 3, 3
	}
	if c.Session.IOTimer == 0 {
		c.Session.IOTimer = 5 * time.Second
	}
	if c.Session.CloseTimer == 0 {
		c.Session.CloseTimer = 30 * time.Second
	}
	if c.Session.SearchHandlesDefault == 0 {
		c.Session.SearchHandlesDefault = 32
	}
	if c.Session.SearchHandlesMax == 0 {
		c.Session.SearchHandlesMax = 256
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errInvalidPort
	}
	if c.MaxConnections < 0 {
		return errInvalidMaxConnections
	}
	if c.VersionLow > c.VersionHigh {
		return errInvalidVersionRange
	}
	if c.Session.SearchHandlesDefault > c.Session.SearchHandlesMax {
		return errInvalidSearchHandles
	}
	return nil
}
