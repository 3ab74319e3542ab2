// Package logging provides structured logging for azbroker with subsystem
// tagging and level filtering.
//
// The package wraps Go's standard slog package. All log entries carry a
// subsystem identifier (for example "Relay", "Host", "TokenCache") so that
// output from the daemon, the protocol host, and consumer commands can be
// told apart in a shared log stream.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Relay", "Listening on %s", socketPath)
//	logging.Error("Host", err, "Token acquisition failed")
//
// Token values are never passed to this package in full; callers log only
// token presence and expiry.
package logging
