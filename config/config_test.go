package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.EmptyRetryDelay != 750*time.Millisecond || cfg.Cache.EmptyRetries != 1 {
		t.Errorf("Unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Panel.StateTimeout != 5*time.Second {
		t.Errorf("Expected 5s state timeout, got %v", cfg.Panel.StateTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected info log level, got %q", cfg.Log.Level)
	}
	if cfg.File != "" {
		t.Errorf("Expected no config file, got %q", cfg.File)
	}
}

func TestLoadFileFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "scenariosync.yaml",
			content: `api:
  endpoint: https://example.test/graphql
  timeout: 10s
mirror:
  dir: /tmp/mirror
`,
		},
		{
			name: "scenariosync.toml",
			content: `[api]
endpoint = "https://example.test/graphql"
timeout = "10s"
[mirror]
dir = "/tmp/mirror"
`,
		},
		{
			name:    "scenariosync.json",
			content: `{"api":{"endpoint":"https://example.test/graphql","timeout":"10s"},"mirror":{"dir":"/tmp/mirror"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.name, tt.content)
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.API.Endpoint != "https://example.test/graphql" {
				t.Errorf("Unexpected endpoint %q", cfg.API.Endpoint)
			}
			if cfg.API.Timeout != 10*time.Second {
				t.Errorf("Expected 10s timeout, got %v", cfg.API.Timeout)
			}
			if cfg.Mirror.Dir != "/tmp/mirror" {
				t.Errorf("Unexpected mirror dir %q", cfg.Mirror.Dir)
			}
			if cfg.File != path {
				t.Errorf("Expected config file %s, got %s", path, cfg.File)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCENARIOSYNC_API_ENDPOINT", "https://env.test/graphql")
	t.Setenv("SCENARIOSYNC_AUTH_TOKEN", "secret")
	t.Setenv("SCENARIOSYNC_OSC_PORT", "53000")

	path := writeConfig(t, "scenariosync.yaml", "api:\n  endpoint: https://file.test/graphql\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Endpoint != "https://env.test/graphql" {
		t.Errorf("Expected env endpoint to win, got %q", cfg.API.Endpoint)
	}
	if cfg.Auth.Token != "secret" {
		t.Errorf("Expected token from env, got %q", cfg.Auth.Token)
	}
	if cfg.OSC.Port != 53000 {
		t.Errorf("Expected OSC port 53000, got %d", cfg.OSC.Port)
	}
}

func TestBindFlags(t *testing.T) {
	isolate(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--log-level", "debug"}); err != nil {
		t.Fatal(err)
	}

	v := New()
	err := BindFlags(v, flags, map[string]string{
		"log.level":  "log-level",
		"mirror.dir": "not-defined",
	})
	if err != nil {
		t.Fatalf("BindFlags failed: %v", err)
	}
	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected flag value debug, got %q", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:    APIConfig{Endpoint: "https://example.test", Timeout: time.Second},
			Panel:  PanelConfig{StateTimeout: time.Second},
			Mirror: MirrorConfig{Debounce: time.Millisecond},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.API.Endpoint = "" }, wantErr: "api.endpoint"},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: "api.timeout"},
		{name: "negative state timeout", mutate: func(c *Config) { c.Panel.StateTimeout = -time.Second }, wantErr: "panel.state_timeout"},
		{name: "zero debounce", mutate: func(c *Config) { c.Mirror.Debounce = 0 }, wantErr: "mirror.debounce"},
		{name: "bad port", mutate: func(c *Config) { c.OSC.Port = 70000 }, wantErr: "osc.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
