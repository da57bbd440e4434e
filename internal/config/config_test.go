package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
	if c.Engine.SessionTimeout.Duration != 24*time.Hour {
		t.Errorf("Expected 24h session timeout, got %s", c.Engine.SessionTimeout)
	}
	if !strings.HasSuffix(c.DB, filepath.Join("agent-event-bus", "data.db")) {
		t.Errorf("Unexpected default db path: %s", c.DB)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDB, "")

	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", c.Server.Port)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv(EnvDB, "")

	path := writeConfig(t, `
db = "/tmp/bus.db"

[engine]
session_timeout = "90m"
host_name = "devbox"

[server]
port = 9999

[notify]
enabled = false
command = "log"

[logging]
format = "json"
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.DB != "/tmp/bus.db" {
		t.Errorf("db = %q", c.DB)
	}
	if c.Engine.SessionTimeout.Duration != 90*time.Minute {
		t.Errorf("session_timeout = %s", c.Engine.SessionTimeout)
	}
	if c.Engine.HostName != "devbox" {
		t.Errorf("host_name = %q", c.Engine.HostName)
	}
	if c.Server.Port != 9999 || c.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Notify.Enabled || c.Notify.Command != "log" {
		t.Errorf("notify = %+v", c.Notify)
	}
	if c.Logging.Format != "json" {
		t.Errorf("logging.format = %q", c.Logging.Format)
	}
	if !c.Prometheus.Enabled {
		t.Error("Expected prometheus to stay enabled")
	}
}

func TestLoad_EnvOverridesDB(t *testing.T) {
	path := writeConfig(t, `db = "/tmp/file.db"`)
	t.Setenv(EnvDB, "/tmp/env.db")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.DB != "/tmp/env.db" {
		t.Errorf("Expected env override, got %q", c.DB)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, `[engine]
session_timeout = "soon"
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		want   string
	}{
		{"empty db", func(c *Configuration) { c.DB = "" }, "db path"},
		{"zero timeout", func(c *Configuration) { c.Engine.SessionTimeout = Duration{} }, "session timeout"},
		{"bad port", func(c *Configuration) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad notify command", func(c *Configuration) { c.Notify.Command = "growl" }, "invalid notify command"},
		{"bad log format", func(c *Configuration) { c.Logging.Format = "xml" }, "invalid logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestEnsureDBDir(t *testing.T) {
	c := Default()
	c.DB = filepath.Join(t.TempDir(), "a", "b", "data.db")

	if err := c.EnsureDBDir(); err != nil {
		t.Fatalf("EnsureDBDir failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(c.DB)); err != nil {
		t.Errorf("Expected directory to exist: %v", err)
	}
}

func TestAddr(t *testing.T) {
	c := Default()
	if got := c.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
