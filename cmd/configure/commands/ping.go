package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/chapters-api/internal/config"
	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const pingTimeout = 5 * time.Second

type pingResult struct {
	name    string
	skipped bool
	err     error
	elapsed time.Duration
}

// NewPingCmd creates the ping command that checks every configured dependency.
func NewPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to Postgres, the store and RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			results := []pingResult{
				ping(cmd.Context(), "database", func(ctx context.Context) error {
					db, err := database.New(ctx, cfg.DatabaseURL)
					if err != nil {
						return err
					}
					return db.Close()
				}),
				ping(cmd.Context(), "store", func(ctx context.Context) error {
					st, err := store.Open(cfg.StoreBackend, cfg.RedisURL)
					if err != nil {
						return err
					}
					defer func() { _ = st.Close() }()
					return st.Ping(ctx)
				}),
			}
			if cfg.RabbitMQURL == "" {
				results = append(results, pingResult{name: "queue", skipped: true})
			} else {
				results = append(results, ping(cmd.Context(), "queue", func(ctx context.Context) error {
					pub, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL)
					if err != nil {
						return err
					}
					defer func() { _ = pub.Close() }()
					return pub.HealthCheck(ctx)
				}))
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"DEPENDENCY", "STATUS", "LATENCY", "ERROR"})
			failed := 0
			for _, r := range results {
				switch {
				case r.skipped:
					tw.AppendRow(table.Row{r.name, "not configured", "", ""})
				case r.err != nil:
					failed++
					tw.AppendRow(table.Row{r.name, "unreachable", r.elapsed.Round(time.Millisecond), r.err.Error()})
				default:
					tw.AppendRow(table.Row{r.name, "ok", r.elapsed.Round(time.Millisecond), ""})
				}
			}
			tw.Render()

			if failed > 0 {
				return fmt.Errorf("%d dependencies unreachable", failed)
			}
			return nil
		},
	}
}

func ping(ctx context.Context, name string, check func(context.Context) error) pingResult {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	return pingResult{name: name, err: err, elapsed: time.Since(start)}
}
