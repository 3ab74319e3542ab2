package cmd

import (
	"fmt"

	"azbroker/internal/relay"
	"azbroker/pkg/logging"

	"github.com/spf13/cobra"
)

// clearCmd removes the cached token without acquiring a new one.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the cached token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := newTokenCache()
		if err != nil {
			return err
		}
		defer cache.Close()

		if err := cache.ClearCache(); err != nil {
			return err
		}

		// The relay acknowledgement is best-effort: clearing still
		// succeeded locally when the daemon is not running.
		client := relay.NewClient(loadedConfig.Relay.SocketPath)
		if err := client.ClearTokenCache(cmd.Context()); err != nil {
			logging.Debug("Clear", "Relay not notified: %v", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Token cache cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
