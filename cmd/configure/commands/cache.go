package commands

import (
	"fmt"

	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/handlers"
	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache command.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the chapter response cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Drop every cached chapter response",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			keys, err := cache.New(st).Invalidate(cmd.Context(), handlers.ChaptersPath)
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache purged successfully (%d entries cleared)\n", len(keys))
			return nil
		},
	})
	return cmd
}
