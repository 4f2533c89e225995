package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/docmapper/internal/cli/ui"
)

func newPingCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the document store and record cache connections",
		Long: `Open the configured database, create the records table if needed and
verify the connection. When cache.redis_addr is set, the Redis record cache
is checked as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			client, err := openStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer client.Close()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("store: %w", err)
			}
			ui.Success(out, fmt.Sprintf("store %s (%s) reachable, table %s ready",
				cfg.Store.Driver, redactDSN(cfg.Store.DSN), cfg.Store.Table), opts.noColor)

			if !cfg.Cache.Enabled() {
				ui.Message{Level: ui.LevelInfo, Problem: "record cache disabled", NoColor: opts.noColor}.Write(out)
				return nil
			}
			redis, err := openRedis(ctx, cfg)
			if err != nil {
				return fmt.Errorf("cache: %w", err)
			}
			defer redis.Close()
			if err := redis.Ping(ctx); err != nil {
				return fmt.Errorf("cache: %w", err)
			}
			ui.Success(out, fmt.Sprintf("record cache %s reachable", cfg.Cache.RedisAddr), opts.noColor)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connection timeout")
	return cmd
}
