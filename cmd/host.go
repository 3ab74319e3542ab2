package cmd

import (
	"os"

	"azbroker/internal/azcli"
	"azbroker/internal/host"

	"github.com/spf13/cobra"
)

// hostCmd defines the host command structure. The relay spawns it for each
// token acquisition; it answers exactly one framed request on stdin with
// one framed response on stdout and exits.
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Answer a single framed token request on stdin/stdout",
	Long: `Runs the subprocess protocol host. It reads one length-prefixed JSON
request from stdin, drives the Azure CLI (login probe, then token fetch),
and writes one length-prefixed JSON response to stdout.

This command is spawned by 'azbroker serve' and is not meant to be run
interactively. All diagnostics go to stderr; stdout carries only the
framed response.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runHost,
}

func runHost(cmd *cobra.Command, args []string) error {
	opts := hostOptions()
	h := host.New(os.Stdin, os.Stdout, opts...)
	return h.Run(cmd.Context())
}

// hostOptions wires configured CLI overrides into the host.
func hostOptions() []host.Option {
	cliConfig := loadedConfig.AzureCLI

	var opts []host.Option
	if cliConfig.Path != "" {
		path := cliConfig.Path
		opts = append(opts, host.WithLocator(func() (string, error) {
			if _, err := os.Stat(path); err != nil {
				return "", azcli.ErrNotFound
			}
			return path, nil
		}))
	}
	opts = append(opts, host.WithTokenSource(func(path string) host.TokenSource {
		return azcli.New(azcli.Config{
			Path:         path,
			ResourceID:   cliConfig.ResourceID,
			ProbeTimeout: cliConfig.ProbeTimeout.Std(),
			FetchTimeout: cliConfig.FetchTimeout.Std(),
		})
	}))
	return opts
}

func init() {
	rootCmd.AddCommand(hostCmd)
}
