// Package config loads the tunnel server's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunnel server configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	Egress  EgressConfig  `yaml:"egress"`
	Limits  LimitsConfig  `yaml:"limits"`
	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ListenConfig specifies the address to bind on.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// TunnelConfig controls tunnel behaviour: the upgrade path, the
// per-tunnel request table capacity, and keepalive tuning.
type TunnelConfig struct {
	Path              string        `yaml:"path"`
	Cap               int           `yaml:"cap"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	MaxMissedPings    int           `yaml:"max_missed_pings"`
}

// EgressConfig controls outbound connect behaviour.
type EgressConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	DialRatePerSec float64       `yaml:"dial_rate_per_sec"`
	DialBurst      int           `yaml:"dial_burst"`
}

// LimitsConfig controls process-wide admission limits.
type LimitsConfig struct {
	MaxConnections int `yaml:"max_connections"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig controls the optional /tun upgrade token gate. Secret
// empty (the default) disables the gate entirely; authentication of
// the tunnel peer is otherwise left to whatever sits in front of this
// server, per the tunnel engine's own scope.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// LoadConfig reads and parses a tunnel server configuration file,
// applying defaults before unmarshalling and validating afterward.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with the spec's documented
// defaults (listen *:8080, path /tun, cap 100, keepalive 10s, 3 missed
// pings).
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Addr: ":8080"},
		Tunnel: TunnelConfig{
			Path:              "/tun",
			Cap:               100,
			KeepaliveInterval: 10 * time.Second,
			MaxMissedPings:    3,
		},
		Egress: EgressConfig{
			DialTimeout:    10 * time.Second,
			DialRatePerSec: 50,
			DialBurst:      100,
		},
		Limits: LimitsConfig{
			MaxConnections: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func (c *Config) validate() error {
	if c.Tunnel.Cap <= 0 {
		return fmt.Errorf("tunnel.cap must be positive, got %d", c.Tunnel.Cap)
	}
	if c.Tunnel.KeepaliveInterval <= 0 {
		return fmt.Errorf("tunnel.keepalive_interval must be positive")
	}
	if c.Tunnel.MaxMissedPings <= 0 {
		return fmt.Errorf("tunnel.max_missed_pings must be positive")
	}
	if c.Tunnel.Path == "" {
		return fmt.Errorf("tunnel.path is required")
	}
	return nil
}
