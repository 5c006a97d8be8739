package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testSettings struct {
	Client struct {
		BaseURL   string        `mapstructure:"base_url"`
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit float64       `mapstructure:"rate_limit"`
	} `mapstructure:"client"`
	Query struct {
		StaleTime time.Duration `mapstructure:"stale_time"`
	} `mapstructure:"query"`
	Wake struct {
		MinVisible time.Duration `mapstructure:"min_visible"`
	} `mapstructure:"wake"`
	Notify struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"notify"`
	Logging LogConfig `mapstructure:"logging"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jump.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source() != "" {
		t.Errorf("Source() = %q, want none", cfg.Source())
	}

	var s testSettings
	if err := cfg.Unmarshal(&s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Client.BaseURL != "http://localhost:3000/api" {
		t.Errorf("client.base_url = %q", s.Client.BaseURL)
	}
	if s.Query.StaleTime != 30*time.Second || s.Wake.MinVisible != 500*time.Millisecond {
		t.Errorf("query/wake = %v / %v", s.Query.StaleTime, s.Wake.MinVisible)
	}
	if s.Logging != (LogConfig{Level: "info", Format: "json", Output: "stderr"}) {
		t.Errorf("logging = %+v", s.Logging)
	}
}

func TestLoad_FileEnvAndOverride(t *testing.T) {
	path := writeConfig(t, "client:\n  base_url: http://nas.lan:3000/api\n  timeout: 3s\nnotify:\n  ttl: 8s\n")
	t.Setenv("JUMP_CLIENT_RATE_LIMIT", "2.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source() != path {
		t.Errorf("Source() = %q, want %q", cfg.Source(), path)
	}
	cfg.Override("notify.ttl", "1s")

	var s testSettings
	if err := cfg.Unmarshal(&s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Client.BaseURL != "http://nas.lan:3000/api" || s.Client.Timeout != 3*time.Second {
		t.Errorf("client = %+v", s.Client)
	}
	if s.Client.RateLimit != 2.5 {
		t.Errorf("rate_limit = %v, want env override 2.5", s.Client.RateLimit)
	}
	if s.Notify.TTL != time.Second {
		t.Errorf("notify.ttl = %v, want flag override 1s", s.Notify.TTL)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := writeConfig(t, "client: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestExplicit(t *testing.T) {
	path := writeConfig(t, "logging:\n  format: console\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Explicit("logging.format") {
		t.Error("logging.format set in file should be explicit")
	}
	if cfg.Explicit("logging.level") {
		t.Error("defaulted logging.level should not be explicit")
	}
	t.Setenv("JUMP_LOGGING_LEVEL", "debug")
	if !cfg.Explicit("logging.level") {
		t.Error("logging.level set in the environment should be explicit")
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("client.base_url"); got != "JUMP_CLIENT_BASE_URL" {
		t.Errorf("EnvVar = %q", got)
	}
}

func TestNew_NilHasDefaults(t *testing.T) {
	var s testSettings
	if err := New(nil).Unmarshal(&s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.Notify.TTL != 5*time.Second {
		t.Errorf("notify.ttl = %v, want default 5s", s.Notify.TTL)
	}
}
