package cmd

import (
	"azbroker/internal/relay"
	"azbroker/internal/tokencache"
)

// newTokenCache builds the consumer-side stack: a relay client over the
// configured socket fronted by the on-disk token cache. Callers own Close.
func newTokenCache() (*tokencache.Cache, error) {
	client := relay.NewClient(loadedConfig.Relay.SocketPath)
	return tokencache.New(tokencache.Config{
		SlotPath:  loadedConfig.Cache.SlotPath,
		Relay:     client,
		WatchSlot: loadedConfig.Cache.Watch,
	})
}
