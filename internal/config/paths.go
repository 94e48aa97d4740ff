// ABOUTME: Resolves config and data locations from environment and XDG directories
// ABOUTME: SENESCHAL_CONFIG overrides the config path

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "SENESCHAL_CONFIG"

// Path returns the config file location: $SENESCHAL_CONFIG, then
// $XDG_CONFIG_HOME/seneschal/config.yaml, then ~/.config/seneschal/config.yaml.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return expandHome(p)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "seneschal", "config.yaml")
	}
	return filepath.Join(homeDir(), ".config", "seneschal", "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/seneschal or ~/.local/share/seneschal.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "seneschal")
	}
	return filepath.Join(homeDir(), ".local", "share", "seneschal")
}

// LoadOrDefault loads the config at path, or returns Default when the
// file does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
