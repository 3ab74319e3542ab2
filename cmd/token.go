package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// tokenForce skips the cache and forces a fresh acquisition.
var tokenForce bool

// tokenCmd defines the token command structure. It prints an Azure DevOps
// bearer token on stdout for use in scripts, for example:
//
//	curl -H "Authorization: Bearer $(azbroker token)" ...
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an Azure DevOps bearer token",
	Long: `Obtains an Azure DevOps access token and prints it on stdout. A valid
cached token is returned without touching the Azure CLI; otherwise one
acquisition runs through the relay. Requires 'azbroker serve' to be
running when the cache is cold.

The token is written to stdout only. It never appears in logs.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cache, err := newTokenCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	// The fast path is silent; the spinner only appears when the Azure CLI
	// actually has to run.
	if !tokenForce {
		if token := cache.GetValidToken(); token != "" {
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " Requesting token from Azure CLI..."
	spin.Start()

	var token string
	if tokenForce {
		token, err = cache.RefreshToken(cmd.Context())
	} else {
		token, err = cache.GetToken(cmd.Context())
	}
	spin.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenForce, "force", false, "Skip the cache and acquire a fresh token")
	rootCmd.AddCommand(tokenCmd)
}
