// Package config handles picker configuration from YAML files.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level picker configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Picker  PickerConfig  `yaml:"picker"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	NavTimeout       time.Duration `yaml:"nav_timeout"`
}

// PickerConfig defines the page to pick on and session identity.
type PickerConfig struct {
	URL       string `yaml:"url"`
	SessionID string `yaml:"session_id"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | callback
	URL  string `yaml:"url"`  // for webhook
}

// ServerConfig controls the HTTP/MCP surface of testflowd.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	AuthUser string `yaml:"auth_user"`
	AuthHash string `yaml:"auth_hash"` // bcrypt hash of the password
	MCPAddr  string `yaml:"mcp_addr"`
}

// StoreConfig locates the replay log database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8097"
	}
	if c.Server.MCPAddr == "" {
		c.Server.MCPAddr = ":8098"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}
