// internal/config/config.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"waypoint/internal/repoindex"
)

type Config struct {
	// Repositories maps repository names to absolute filesystem roots.
	Repositories map[string]string `json:"repositories"`

	// LibraryPath is where the tour library database lives.
	LibraryPath string `json:"library_path"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

func DefaultPath() string {
	if path := os.Getenv("WAYPOINT_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "waypoint.json"
	}
	return filepath.Join(home, ".waypoint", "config.json")
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LibraryPath == "" {
		config.LibraryPath = filepath.Join(filepath.Dir(path), "library")
	}

	return &config, nil
}

// Index returns the repository index described by the config.
func (c *Config) Index() repoindex.Index {
	return repoindex.Index(c.Repositories)
}
