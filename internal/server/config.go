package server

import "time"

// Config holds the bridge configuration.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// DevMode serves the API reference under /swagger/.
	DevMode bool `mapstructure:"dev_mode"`
}

// DefaultConfig returns the bridge defaults: loopback only, refresh every 30s.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:8090",
		RefreshInterval: 30 * time.Second,
	}
}
