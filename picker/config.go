package picker

import (
	"github.com/xASHx26/testflow-sub001/picker/internal/config"
)

// Config is the top-level picker configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PickerConfig defines the page to pick on and session identity.
type PickerConfig = config.PickerConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// ServerConfig controls the HTTP/MCP surface of testflowd.
type ServerConfig = config.ServerConfig

// StoreConfig locates the replay log database.
type StoreConfig = config.StoreConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
