package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the demo CLI's on-disk configuration. The mobile bridge
// that embeds the core instead builds a pump.Options directly and never
// touches this type.
type ClientConfig struct {
	Server    string `yaml:"server"`     // host:port
	Transport string `yaml:"transport"` // udp|quic|websocket
	TunDevice string `yaml:"tun_device"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	StatsInterval    time.Duration `yaml:"stats_interval"`

	Log struct {
		Level string `yaml:"level"`
		Path  string `yaml:"path"`
	} `yaml:"log"`
}

// LoadClientConfig reads path (if non-empty) and fills in defaults.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var c ClientConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.TunDevice == "" {
		c.TunDevice = "tun0"
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 1 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return &c, nil
}
