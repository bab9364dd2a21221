package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRunFlagsWithoutConfigFile(t *testing.T) {
	cfg, err := parseRunFlags([]string{
		"--local-port", "9000",
		"--target-host", "127.0.0.1",
		"--target-port", "27015",
		"--latency", "120",
		"--jitter", "40",
		"--packet-loss", "0.1",
		"--bind-host", "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}

	if cfg.ListenAddr() != "127.0.0.1:9000" {
		t.Fatalf("listen addr: %s", cfg.ListenAddr())
	}
	if cfg.TargetAddr() != "127.0.0.1:27015" {
		t.Fatalf("target addr: %s", cfg.TargetAddr())
	}
	if cfg.Conditions.LatencyMs != 120 || cfg.Conditions.JitterMs != 40 || cfg.Conditions.Loss != 0.1 {
		t.Fatalf("conditions: %+v", cfg.Conditions)
	}
}

func TestParseRunFlagsOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fakelag.yaml")
	content := "listen:\n  port: 9000\ntarget:\n  host: 192.0.2.1\n  port: 9001\nconditions:\n  latency_ms: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := parseRunFlags([]string{
		"--config", path,
		"--latency", "200",
	})
	if err != nil {
		t.Fatalf("parseRunFlags: %v", err)
	}

	if cfg.Conditions.LatencyMs != 200 {
		t.Fatalf("flag should override file latency, got %d", cfg.Conditions.LatencyMs)
	}
	if cfg.Target.Host != "192.0.2.1" || cfg.Listen.Port != 9000 {
		t.Fatalf("file values lost: %+v", cfg)
	}
}

func TestParseRunFlagsRejectsInvalid(t *testing.T) {
	if _, err := parseRunFlags([]string{
		"--local-port", "9000",
		"--target-host", "127.0.0.1",
		"--target-port", "9001",
		"--packet-loss", "1.5",
	}); err == nil {
		t.Fatalf("expected validation error for loss > 1")
	}

	if _, err := parseRunFlags([]string{"--target-host", "127.0.0.1", "--target-port", "9001"}); err == nil {
		t.Fatalf("expected validation error when listen port missing")
	}
}
