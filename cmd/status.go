package cmd

import (
	"errors"
	"net"
	"time"

	"azbroker/internal/azcli"
	"azbroker/internal/protocol"
	"azbroker/internal/tokencache"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// statusCmd shows the health of every piece of the broker chain.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show broker status",
	Long: `Shows the state of the token broker chain: whether the Azure CLI is
installed, whether you are logged in, whether the relay daemon is
reachable, and whether a valid token is cached.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Component", "Status", "Detail"})

	t.AppendRow(azureCLIRow(cmd))
	t.AppendRow(relayRow())
	t.AppendRow(cacheRow())

	t.Render()
	return nil
}

func azureCLIRow(cmd *cobra.Command) table.Row {
	path := loadedConfig.AzureCLI.Path
	if path == "" {
		located, err := azcli.Locate()
		if err != nil {
			return table.Row{"Azure CLI", text.FgRed.Sprint("not found"), "Install from https://aka.ms/installazurecli"}
		}
		path = located
	}

	cli := azcli.New(azcli.Config{
		Path:         path,
		ResourceID:   loadedConfig.AzureCLI.ResourceID,
		ProbeTimeout: loadedConfig.AzureCLI.ProbeTimeout.Std(),
	})
	if err := cli.CheckLoggedIn(cmd.Context()); err != nil {
		var brokerErr *protocol.BrokerError
		if errors.As(err, &brokerErr) && brokerErr.Kind == protocol.KindNotLoggedIn {
			return table.Row{"Azure CLI", text.FgYellow.Sprint("not logged in"), "Run: az login"}
		}
		return table.Row{"Azure CLI", text.FgRed.Sprint("probe failed"), err.Error()}
	}
	return table.Row{"Azure CLI", text.FgGreen.Sprint("logged in"), path}
}

func relayRow() table.Row {
	socketPath := loadedConfig.Relay.SocketPath
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return table.Row{"Relay", text.FgYellow.Sprint("not running"), "Start with: azbroker serve"}
	}
	conn.Close()
	return table.Row{"Relay", text.FgGreen.Sprint("running"), socketPath}
}

func cacheRow() table.Row {
	entry := tokencache.NewSlot(loadedConfig.Cache.SlotPath).Read()
	if entry == nil {
		return table.Row{"Token cache", text.FgYellow.Sprint("empty"), loadedConfig.Cache.SlotPath}
	}
	expiresOn := entry.ExpiresOn.Local().Format("2006-01-02 15:04:05")
	if time.Now().Add(tokencache.ExpiryBuffer).Before(entry.ExpiresOn) {
		return table.Row{"Token cache", text.FgGreen.Sprint("valid"), "until " + expiresOn}
	}
	return table.Row{"Token cache", text.FgYellow.Sprint("expired"), "expired " + expiresOn}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
