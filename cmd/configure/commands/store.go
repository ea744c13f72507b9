package commands

import (
	"fmt"

	"github.com/benvon/chapters-api/internal/config"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/spf13/cobra"
)

// openStore connects to the configured shared store. The memory backend lives
// inside the server process, so it cannot be inspected from here.
func openStore(cmd *cobra.Command) (store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreBackend == store.BackendMemory {
		return nil, fmt.Errorf("STORE_BACKEND is memory; counters and cache entries are only visible to the running server")
	}
	st, err := store.Open(cfg.StoreBackend, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Ping(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	return st, nil
}
