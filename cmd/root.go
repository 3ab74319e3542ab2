package cmd

import (
	"errors"
	"os"

	"azbroker/internal/config"
	"azbroker/internal/protocol"
	"azbroker/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
// These follow common conventions so scripts can react to broker state.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the Azure CLI session is missing or expired.
	ExitCodeAuthRequired = 2
	// ExitCodeTransportUnavailable indicates the relay or host could not be reached.
	ExitCodeTransportUnavailable = 3
)

// rootConfigPath specifies a custom configuration directory path.
// When empty, ~/.config/azbroker is used.
var rootConfigPath string

// rootDebug enables verbose logging across the application.
var rootDebug bool

// rootCmd represents the base command for the azbroker application.
var rootCmd = &cobra.Command{
	Use:   "azbroker",
	Short: "Broker Azure DevOps bearer tokens via the Azure CLI",
	Long: `azbroker obtains Azure DevOps access tokens from your Azure CLI login
and hands them to local consumers. It caches tokens on disk with an
expiry guard so repeated requests do not spawn the CLI, and it runs the
CLI in a separate host process so a hung invocation never wedges the
caller.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRuntime()
	},
}

// loadedConfig is populated by initRuntime before any command runs.
var loadedConfig config.Config

// initRuntime loads configuration and initializes logging. Logs always go
// to stderr: the host command owes its stdout exclusively to the framed
// protocol, and consumer commands print tokens there.
func initRuntime() error {
	configPath := rootConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	loadedConfig = cfg

	level := logging.ParseLevel(cfg.LogLevel)
	if rootDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)
	return nil
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "azbroker version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var brokerErr *protocol.BrokerError
	if errors.As(err, &brokerErr) {
		switch brokerErr.Kind {
		case protocol.KindNotLoggedIn:
			return ExitCodeAuthRequired
		case protocol.KindTransportUnavailable:
			return ExitCodeTransportUnavailable
		}
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config-path", "", "Configuration directory (default is $HOME/.config/azbroker)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}
