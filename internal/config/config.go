// Package config loads jump's settings with Viper.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is a loaded settings tree: defaults, then the config file, then
// JUMP_* environment variables, then command-line overrides.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields an empty tree with defaults registered.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}
	return &Config{v: v}
}

// Unmarshal decodes the whole tree into target using mapstructure tags.
// Durations may be written as strings ("30s").
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Override sets key from a command-line flag. It wins over every other
// source.
func (c *Config) Override(key string, value any) {
	c.v.Set(key, value)
}

// Explicit reports whether key was given in the config file or the
// environment rather than left at its default.
func (c *Config) Explicit(key string) bool {
	if c.v.InConfig(key) {
		return true
	}
	_, ok := os.LookupEnv(EnvVar(key))
	return ok
}

// Source is the config file that was read, or "" when none was found.
func (c *Config) Source() string {
	return c.v.ConfigFileUsed()
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(envKeys.Replace(key))
}

var envKeys = strings.NewReplacer(".", "_")
