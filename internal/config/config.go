package config

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "FAKELAG_CONFIG"
	DefaultConfigPath = "/etc/fakelag/fakelag.yaml"
)

type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Target     TargetConfig     `yaml:"target"`
	Conditions ConditionsConfig `yaml:"conditions"`
	Run        RunConfig        `yaml:"run"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TargetConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ConditionsConfig struct {
	LatencyMs int     `yaml:"latency_ms"`
	JitterMs  int     `yaml:"jitter_ms"`
	Loss      float64 `yaml:"loss"`
}

type RunConfig struct {
	DrainTick          time.Duration `yaml:"drain_tick"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	MaxSessions        int           `yaml:"max_sessions"`
	QueueDepthCap      int           `yaml:"queue_depth_cap"`
	PPSCap             int           `yaml:"pps_cap"`
}

type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is provided: relay
// disabled conditions (pass-through) on unspecified ports, monitoring off.
func Default() Config {
	return Config{
		Listen: ListenConfig{Host: "0.0.0.0"},
		Run: RunConfig{
			DrainTick:          time.Millisecond,
			ReadTimeout:        250 * time.Millisecond,
			SessionIdleTimeout: 2 * time.Minute,
			QueueDepthCap:      65536,
		},
		Monitoring: MonitoringConfig{Addr: "127.0.0.1:9410"},
	}
}

func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Validate range-checks everything the relay core assumes was validated
// upstream.
func (c Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port must be in 1..65535, got %d", c.Listen.Port)
	}
	if c.Target.Host == "" {
		return fmt.Errorf("target host must be set")
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		return fmt.Errorf("target port must be in 1..65535, got %d", c.Target.Port)
	}
	if c.Conditions.LatencyMs < 0 {
		return fmt.Errorf("latency_ms must be non-negative, got %d", c.Conditions.LatencyMs)
	}
	if c.Conditions.JitterMs < 0 {
		return fmt.Errorf("jitter_ms must be non-negative, got %d", c.Conditions.JitterMs)
	}
	if c.Conditions.Loss < 0 || c.Conditions.Loss > 1 {
		return fmt.Errorf("loss must be in [0,1], got %g", c.Conditions.Loss)
	}
	if c.Run.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be non-negative, got %d", c.Run.MaxSessions)
	}
	if c.Run.PPSCap < 0 {
		return fmt.Errorf("pps_cap must be non-negative, got %d", c.Run.PPSCap)
	}
	return nil
}

// ListenAddr returns the host:port the relay binds.
func (c Config) ListenAddr() string {
	host := c.Listen.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, fmt.Sprint(c.Listen.Port))
}

// TargetAddr returns the host:port of the remote target.
func (c Config) TargetAddr() string {
	return net.JoinHostPort(c.Target.Host, fmt.Sprint(c.Target.Port))
}

// Latency returns the base latency as a duration.
func (c Config) Latency() time.Duration {
	return time.Duration(c.Conditions.LatencyMs) * time.Millisecond
}

// Jitter returns the jitter bound as a duration.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.Conditions.JitterMs) * time.Millisecond
}
