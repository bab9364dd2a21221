package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
listen:
  host: 127.0.0.1
  port: 9000
target:
  host: 192.0.2.10
  port: 27015
conditions:
  latency_ms: 150
  jitter_ms: 30
  loss: 0.05
run:
  drain_tick: 2ms
  session_idle_timeout: 5m
  max_sessions: 64
monitoring:
  enabled: true
  addr: 127.0.0.1:9411
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakelag.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr() != "127.0.0.1:9000" {
		t.Fatalf("listen addr: %s", cfg.ListenAddr())
	}
	if cfg.TargetAddr() != "192.0.2.10:27015" {
		t.Fatalf("target addr: %s", cfg.TargetAddr())
	}
	if cfg.Latency() != 150*time.Millisecond {
		t.Fatalf("latency: %s", cfg.Latency())
	}
	if cfg.Jitter() != 30*time.Millisecond {
		t.Fatalf("jitter: %s", cfg.Jitter())
	}
	if cfg.Conditions.Loss != 0.05 {
		t.Fatalf("loss: %g", cfg.Conditions.Loss)
	}
	if cfg.Run.DrainTick != 2*time.Millisecond {
		t.Fatalf("drain tick: %s", cfg.Run.DrainTick)
	}
	if cfg.Run.SessionIdleTimeout != 5*time.Minute {
		t.Fatalf("idle timeout: %s", cfg.Run.SessionIdleTimeout)
	}
	if cfg.Run.MaxSessions != 64 {
		t.Fatalf("max sessions: %d", cfg.Run.MaxSessions)
	}
	if !cfg.Monitoring.Enabled || cfg.Monitoring.Addr != "127.0.0.1:9411" {
		t.Fatalf("monitoring: %+v", cfg.Monitoring)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9000\ntarget:\n  host: 127.0.0.1\n  port: 9001\n")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Run.DrainTick != def.Run.DrainTick {
		t.Fatalf("drain tick default lost: %s", cfg.Run.DrainTick)
	}
	if cfg.Run.SessionIdleTimeout != def.Run.SessionIdleTimeout {
		t.Fatalf("idle timeout default lost: %s", cfg.Run.SessionIdleTimeout)
	}
	if cfg.Run.QueueDepthCap != def.Run.QueueDepthCap {
		t.Fatalf("depth cap default lost: %d", cfg.Run.QueueDepthCap)
	}
	if cfg.Listen.Host != "0.0.0.0" {
		t.Fatalf("bind host default lost: %s", cfg.Listen.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv(envConfigPath, path)

	cfg, err := LoadFromEnv(context.Background())
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Listen.Port != 9000 {
		t.Fatalf("expected config from env path, got port %d", cfg.Listen.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Listen.Port = 9000
		cfg.Target.Host = "127.0.0.1"
		cfg.Target.Port = 9001
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero listen port", func(c *Config) { c.Listen.Port = 0 }},
		{"listen port too high", func(c *Config) { c.Listen.Port = 70000 }},
		{"missing target host", func(c *Config) { c.Target.Host = "" }},
		{"zero target port", func(c *Config) { c.Target.Port = 0 }},
		{"negative latency", func(c *Config) { c.Conditions.LatencyMs = -1 }},
		{"negative jitter", func(c *Config) { c.Conditions.JitterMs = -1 }},
		{"loss above one", func(c *Config) { c.Conditions.Loss = 1.1 }},
		{"negative loss", func(c *Config) { c.Conditions.Loss = -0.1 }},
		{"negative session cap", func(c *Config) { c.Run.MaxSessions = -1 }},
		{"negative pps cap", func(c *Config) { c.Run.PPSCap = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}
}
