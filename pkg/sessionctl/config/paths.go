package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "sessionctl"
	defaultConfigFile    = "config.yaml"
)

// DefaultConfigPath returns $SESSIONCTL_CONFIG or the per-user config file.
func DefaultConfigPath() string {
	if env := os.Getenv("SESSIONCTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sessionctl", defaultConfigFile)
}
