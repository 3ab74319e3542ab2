package azcli

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"azbroker/pkg/logging"
)

const locatorSubsystem = "AzCLI"

// ErrNotFound indicates the Azure CLI executable could not be located in
// the search path or in any well-known installation directory.
var ErrNotFound = errors.New("azure cli not found")

// InstallHint is the actionable pointer surfaced when the CLI is missing.
const InstallHint = "Azure CLI not found. Install it from https://aka.ms/installazurecli and ensure 'az' is on your PATH."

// Locate finds the Azure CLI executable. It tries the bare command name
// first (relying on the inherited search path), then probes an ordered list
// of well-known per-platform installation directories, returning the first
// path that exists on disk.
//
// Locate performs a pure lookup: it never executes a candidate and never
// caches a miss. The environment may change between calls (the user can
// install the CLI mid-session), so re-probing is deliberate.
func Locate() (string, error) {
	if path, err := exec.LookPath(commandName()); err == nil {
		logging.Debug(locatorSubsystem, "Found Azure CLI on PATH at %s", path)
		return path, nil
	}

	for _, candidate := range wellKnownPaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			logging.Debug(locatorSubsystem, "Found Azure CLI at well-known path %s", candidate)
			return candidate, nil
		}
	}

	logging.Debug(locatorSubsystem, "Azure CLI not found on PATH or in well-known locations")
	return "", ErrNotFound
}

// commandName returns the bare command name for the current platform.
func commandName() string {
	if runtime.GOOS == "windows" {
		return "az.cmd"
	}
	return "az"
}

// wellKnownPaths is a variable to allow overriding in tests.
var wellKnownPaths = defaultWellKnownPaths

// defaultWellKnownPaths returns the ordered list of installation locations
// probed when the bare command is not on PATH: package-manager defaults
// first, then user-local installer paths, then language-runtime-bundled
// installs.
func defaultWellKnownPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return appendUserLocal([]string{
			"/opt/homebrew/bin/az",
			"/usr/local/bin/az",
		})
	case "windows":
		return []string{
			`C:\Program Files\Microsoft SDKs\Azure\CLI2\wbin\az.cmd`,
			`C:\Program Files (x86)\Microsoft SDKs\Azure\CLI2\wbin\az.cmd`,
		}
	default:
		return appendUserLocal([]string{
			"/usr/bin/az",
			"/usr/local/bin/az",
			"/opt/az/bin/az",
		})
	}
}

// appendUserLocal adds per-user install locations (pip --user and similar
// installers place az under ~/.local/bin).
func appendUserLocal(paths []string) []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	return append(paths,
		filepath.Join(homeDir, ".local", "bin", "az"),
		filepath.Join(homeDir, "bin", "az"),
	)
}
