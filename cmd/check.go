package cmd

import (
	"fmt"

	"azbroker/internal/autherr"
	"azbroker/internal/devops"
	"azbroker/internal/relay"

	"github.com/spf13/cobra"
)

// checkOrgURL overrides the configured organization URL.
var checkOrgURL string

// checkCmd verifies the whole chain end to end: token acquisition plus an
// authenticated request against the Azure DevOps organization. A 401 clears
// the cache through the classifier, so a stale token fixes itself on the
// next run.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify token access against an Azure DevOps organization",
	Long: `Obtains a token and issues an authenticated request against the
configured Azure DevOps organization. If the organization rejects the
token with 401, the cached token is invalidated so the next acquisition
starts fresh.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	orgURL := checkOrgURL
	if orgURL == "" {
		orgURL = loadedConfig.DevOps.OrganizationURL
	}
	if orgURL == "" {
		return fmt.Errorf("no organization URL configured; set devops.organizationUrl or pass --org")
	}

	cache, err := newTokenCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	classifier := autherr.New(cache, relay.NewClient(loadedConfig.Relay.SocketPath))

	client, err := devops.NewClient(devops.Config{
		OrganizationURL: orgURL,
		Tokens:          cache.TokenSource(cmd.Context()),
		Reporter:        classifier,
	})
	if err != nil {
		return err
	}

	if err := client.CheckConnection(cmd.Context()); err != nil {
		return fmt.Errorf("organization check failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token accepted by %s\n", orgURL)
	return nil
}

func init() {
	checkCmd.Flags().StringVar(&checkOrgURL, "org", "", "Azure DevOps organization URL (default from config)")
	rootCmd.AddCommand(checkCmd)
}
