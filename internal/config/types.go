package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level azbroker configuration.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Cache    CacheConfig    `yaml:"cache"`
	AzureCLI AzureCLIConfig `yaml:"azureCli"`
	DevOps   DevOpsConfig   `yaml:"devops"`
	LogLevel string         `yaml:"logLevel"`
}

// RelayConfig configures the relay daemon and its clients.
type RelayConfig struct {
	// SocketPath is the Unix socket the relay listens on.
	SocketPath string `yaml:"socketPath"`
}

// CacheConfig configures the on-disk token cache.
type CacheConfig struct {
	// SlotPath is the JSON file holding the single cached token.
	SlotPath string `yaml:"slotPath"`

	// Watch enables filesystem watching of the cache slot so external
	// changes invalidate the in-memory copy.
	Watch bool `yaml:"watch"`
}

// AzureCLIConfig configures how the Azure CLI is located and invoked.
type AzureCLIConfig struct {
	// Path overrides CLI discovery with an explicit binary path.
	Path string `yaml:"path"`

	// ResourceID is the resource tokens are requested for.
	ResourceID string `yaml:"resourceId"`

	// ProbeTimeout bounds the login check invocation.
	ProbeTimeout Duration `yaml:"probeTimeout"`

	// FetchTimeout bounds the token fetch invocation.
	FetchTimeout Duration `yaml:"fetchTimeout"`
}

// DevOpsConfig configures the Azure DevOps API client.
type DevOpsConfig struct {
	// OrganizationURL is the organization root, for example
	// "https://dev.azure.com/fabrikam".
	OrganizationURL string `yaml:"organizationUrl"`
}
