package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr string
	}{
		{name: "defaults", cfg: LogConfig{}},
		{name: "console warn", cfg: LogConfig{Level: "warn", Format: "console"}},
		{name: "upper case", cfg: LogConfig{Level: "DEBUG", Format: "JSON"}},
		{name: "stdout", cfg: LogConfig{Output: "stdout"}},
		{name: "bad level", cfg: LogConfig{Level: "banana"}, wantErr: "invalid log level"},
		{name: "bad format", cfg: LogConfig{Format: "xml"}, wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("nil logger")
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jump.log")
	logger, err := NewLogger(LogConfig{Level: "debug", Output: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("wake sent")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"logger":"jump"`) || !strings.Contains(string(data), "wake sent") {
		t.Errorf("log file = %s", data)
	}
}
