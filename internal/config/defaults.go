package config

import (
	"os"
	"path/filepath"

	"azbroker/internal/azcli"
)

const socketFileName = "azbroker.sock"

// GetDefault returns the configuration used when no config.yaml exists.
// Paths are resolved relative to the given config directory.
func GetDefault(configPath string) Config {
	return Config{
		Relay: RelayConfig{
			SocketPath: defaultSocketPath(),
		},
		Cache: CacheConfig{
			SlotPath: filepath.Join(configPath, "token-cache.json"),
			Watch:    true,
		},
		AzureCLI: AzureCLIConfig{
			ResourceID:   azcli.DevOpsResourceID,
			ProbeTimeout: Duration(azcli.DefaultProbeTimeout),
			FetchTimeout: Duration(azcli.DefaultFetchTimeout),
		},
		LogLevel: "info",
	}
}

// defaultSocketPath prefers the user runtime directory and falls back to the
// system temp directory.
func defaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, socketFileName)
	}
	return filepath.Join(os.TempDir(), socketFileName)
}
