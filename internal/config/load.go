package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: JUMP_CLIENT_BASE_URL sets
// client.base_url.
const EnvPrefix = "JUMP"

// SetDefaults registers every known key with its default value. Keys must
// be registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("client.base_url", "http://localhost:3000/api")
	v.SetDefault("client.timeout", "10s")
	v.SetDefault("client.rate_limit", 0)
	v.SetDefault("client.rate_burst", 5)

	v.SetDefault("query.stale_time", "30s")
	v.SetDefault("query.retry_delay", "1s")

	v.SetDefault("notify.ttl", "5s")

	v.SetDefault("wake.min_visible", "500ms")
	v.SetDefault("wake.contract", "auto")

	v.SetDefault("bridge.listen", "127.0.0.1:8090")
	v.SetDefault("bridge.refresh_interval", "30s")
	v.SetDefault("bridge.dev_mode", false)

	v.SetDefault("relay.nats_url", "")
	v.SetDefault("relay.subject", "jump.events")
	v.SetDefault("relay.name", "jump")

	v.SetDefault("reach.timeout", "2m")
	v.SetDefault("reach.interval", "5s")
	v.SetDefault("reach.privileged", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// Load reads configuration from configPath, or from jump.yaml in the
// usual places when configPath is empty, then applies JUMP_* environment
// overrides. A missing discovered file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("jump")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "jump"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeys)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return New(v), nil
}
