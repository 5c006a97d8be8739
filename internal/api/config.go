package api

import "time"

// Config holds the device service client settings.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`   // Service API root (e.g., "http://localhost:3000/api")
	Timeout   time.Duration `mapstructure:"timeout"`    // Per-request timeout (default: 10s)
	RateLimit float64       `mapstructure:"rate_limit"` // Outbound requests per second (0 = unlimited)
	RateBurst int           `mapstructure:"rate_burst"` // Burst size for the limiter
}

// DefaultConfig returns a Config pointing at a service on localhost.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:3000/api",
		Timeout:   10 * time.Second,
		RateBurst: 5,
	}
}
