// Package config loads the YAML-configured defaults for both the server
// and client binaries; CLI flags layer on top of whatever this loads.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the server's on-disk configuration. CLI flags (--port,
// --tun-ip, --tun-mask, --metrics) override whatever is loaded here.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	TunIP   string `yaml:"tun_ip"`
	TunMask string `yaml:"tun_mask"`
	TunName string `yaml:"tun_name"`
	Metrics string `yaml:"metrics"` // listen address, empty disables

	Log struct {
		Level string `yaml:"level"`
		Path  string `yaml:"path"`
	} `yaml:"log"`

	RateLimit struct {
		MaxHandshakesPerWindow int           `yaml:"max_handshakes_per_window"`
		Window                 time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
}

// LoadServerConfig reads path (if non-empty) and fills in defaults for
// anything left unset.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var c ServerConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	if c.Port == 0 {
		c.Port = 12345
	}
	if c.TunIP == "" {
		c.TunIP = "10.0.0.1"
	}
	if c.TunMask == "" {
		c.TunMask = "255.255.255.0"
	}
	if c.TunName == "" {
		c.TunName = "tun0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.MaxHandshakesPerWindow == 0 {
		c.RateLimit.MaxHandshakesPerWindow = 20
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 30 * time.Second
	}
	return &c, nil
}
