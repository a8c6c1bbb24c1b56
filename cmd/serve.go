package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/grail/internal/config"
	"github.com/JakeFAU/grail/internal/server"
)

// newServeCmd creates the 'serve' subcommand, which runs the daemon until
// SIGINT or SIGTERM.
func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.Build(ctx, cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			if err := app.Run(ctx); err != nil {
				return fmt.Errorf("run daemon: %w", err)
			}
			return nil
		},
	}
}
