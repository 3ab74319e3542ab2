package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"azbroker/internal/relay"
	"azbroker/pkg/logging"

	"github.com/spf13/cobra"
)

// serveSocketPath overrides the configured relay socket path.
var serveSocketPath string

// serveCmd defines the serve command structure. It runs the relay daemon
// that consumers connect to over a Unix socket.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the token relay daemon",
	Long: `Starts the relay daemon on a Unix socket. Consumers (other azbroker
commands, editor integrations, scripts) connect to it to request tokens.
For each acquisition the relay spawns a short-lived host subprocess, so a
hung Azure CLI invocation never takes the daemon down.

The daemon runs until interrupted (Ctrl+C or SIGTERM).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	socketPath := serveSocketPath
	if socketPath == "" {
		socketPath = loadedConfig.Relay.SocketPath
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own executable: %w", err)
	}
	runner := &relay.SubprocessRunner{
		Command: exe,
		Args:    hostArgs(),
	}

	server, err := relay.NewServer(relay.Config{
		SocketPath: socketPath,
		Runner:     runner,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "azbroker relay listening on %s\n", server.Addr())

	<-ctx.Done()
	logging.Info("Serve", "Shutting down")
	return server.Stop()
}

// hostArgs builds the argument vector for spawned host subprocesses so
// they inherit the daemon's configuration directory and log level.
func hostArgs() []string {
	args := []string{"host"}
	if rootConfigPath != "" {
		args = append(args, "--config-path", rootConfigPath)
	}
	if rootDebug {
		args = append(args, "--debug")
	}
	return args
}

func init() {
	serveCmd.Flags().StringVar(&serveSocketPath, "socket", "", "Unix socket to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}
