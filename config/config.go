package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlConfig represents the optional service configuration file. Values can
// be overridden by command line flags and environment variables.
type TomlConfig struct {
	// Path to the SQLite database file
	Database string `toml:"database"`

	// Port the HTTP server listens on
	Port int `toml:"port"`
}

func Default() *TomlConfig {
	return &TomlConfig{
		Database: "feeds.db",
		Port:     8000,
	}
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}
