package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// refreshCmd discards the cached token and acquires a fresh one. Useful
// when a token was revoked out-of-band and its recorded expiry still lies
// in the future.
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Discard the cached token and acquire a fresh one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := newTokenCache()
		if err != nil {
			return err
		}
		defer cache.Close()

		if _, err := cache.RefreshToken(cmd.Context()); err != nil {
			return err
		}

		entry := cache.GetCachedToken()
		if entry != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, valid until %s\n", entry.ExpiresOn.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Token refreshed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
