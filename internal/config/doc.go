// Package config provides configuration management for azbroker.
//
// Configuration is loaded from a single directory, ~/.config/azbroker by
// default, containing a config.yaml. A missing file is fine: every setting
// has a working default, so the broker runs with zero configuration.
//
// Environment variables override file values:
//
//	AZBROKER_SOCKET      relay Unix socket path
//	AZBROKER_CACHE_SLOT  token cache slot file
//	AZBROKER_AZ_PATH     explicit Azure CLI binary path
//	AZBROKER_ORG_URL     Azure DevOps organization URL
//	AZBROKER_LOG_LEVEL   debug, info, warn, or error
package config
