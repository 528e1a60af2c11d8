package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	for _, env := range []string{
		"CLAUDEPHONE_DATA_DIR", "CLAUDEPHONE_HTTP_PORT", "CLAUDEPHONE_WS_PORT",
		"CLAUDEPHONE_LOG_LEVEL", "CLAUDEPHONE_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"claude-phone"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.WSPort != defaultWSPort {
		t.Errorf("WSPort = %d, want %d", cfg.WSPort, defaultWSPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.LanguageDefault != defaultLanguage {
		t.Errorf("LanguageDefault = %q, want %q", cfg.LanguageDefault, defaultLanguage)
	}
	if cfg.AudioDir != cfg.DataDir+"/audio" {
		t.Errorf("AudioDir = %q, want %q", cfg.AudioDir, cfg.DataDir+"/audio")
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"claude-phone"}
	t.Setenv("CLAUDEPHONE_HTTP_PORT", "9090")
	t.Setenv("CLAUDEPHONE_DATA_DIR", "/tmp/claude-phone-test")
	t.Setenv("CLAUDEPHONE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/claude-phone-test" {
		t.Errorf("DataDir = %q, want /tmp/claude-phone-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	os.Args = []string{"claude-phone", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("CLAUDEPHONE_HTTP_PORT", "9090")
	t.Setenv("CLAUDEPHONE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"claude-phone", "--http-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"claude-phone", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateWSPortCollision(t *testing.T) {
	os.Args = []string{"claude-phone", "--http-port", "8080", "--ws-port", "8080"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ws-port equals http-port")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
