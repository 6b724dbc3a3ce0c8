package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ConfigFileEnv overrides the config file location.
	ConfigFileEnv = "CONSOLE_CONFIG"
	// DefaultConfigFile is looked up in the working directory.
	DefaultConfigFile = "console.yaml"
)

// Load resolves and loads the configuration: the file named by
// CONSOLE_CONFIG if set, else console.yaml in the working directory,
// else the built-in defaults. A missing file is not an error.
func Load(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := os.Getenv(ConfigFileEnv)
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			candidate := filepath.Join(cwd, DefaultConfigFile)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}

	config := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded config file", slog.String("path", path))
		config = loaded
	} else {
		logger.Debug("no config file found, using defaults")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
