package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AccountConfig is one email account in the config file.
type AccountConfig struct {
	APIKey string `yaml:"api_key"`
	To     string `yaml:"to"`
}

// FileConfig represents the structure of ~/.flatwatch/config.yaml. Every
// field is optional; environment variables take precedence.
type FileConfig struct {
	SitesDir       string `yaml:"sites_dir"`
	DataDir        string `yaml:"data_dir"`
	UserAgent      string `yaml:"user_agent"`
	RequestTimeout string `yaml:"request_timeout"`
	Log            struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	History struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"history"`
	Email struct {
		From     string          `yaml:"from"`
		Accounts []AccountConfig `yaml:"accounts"`
	} `yaml:"email"`
	Daemon struct {
		PollInterval string `yaml:"poll_interval"`
		Listen       string `yaml:"listen"`
	} `yaml:"daemon"`
}

// DefaultConfigPath returns ~/.flatwatch/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".flatwatch", "config.yaml"), nil
}

// LoadConfigFile loads configuration from path, or from the default
// location when path is empty. Returns nil if the file doesn't exist (not
// an error). Returns error if the file exists but cannot be parsed.
func LoadConfigFile(path string) (*FileConfig, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // File doesn't exist -- not an error
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
