package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"azbroker/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/azbroker"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory. A missing
// config.yaml is not an error; defaults apply. Environment variables
// override whatever was loaded.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefault(configPath)

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnvOverrides(&config)
			return config, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	applyEnvOverrides(&config)
	return config, nil
}

// applyEnvOverrides lets environment variables win over file values, which
// keeps the host subprocess configurable without a config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("AZBROKER_SOCKET"); v != "" {
		config.Relay.SocketPath = v
	}
	if v := os.Getenv("AZBROKER_CACHE_SLOT"); v != "" {
		config.Cache.SlotPath = v
	}
	if v := os.Getenv("AZBROKER_AZ_PATH"); v != "" {
		config.AzureCLI.Path = v
	}
	if v := os.Getenv("AZBROKER_ORG_URL"); v != "" {
		config.DevOps.OrganizationURL = v
	}
	if v := os.Getenv("AZBROKER_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
}
