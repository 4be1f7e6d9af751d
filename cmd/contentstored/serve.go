package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xtxerr/contentstore/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background jobs until interrupted",
	Long: `Run segment pre-creation, archival and maintenance on the intervals of
the schedule section until SIGINT or SIGTERM.

With schedule.run_on_start every job runs once immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				logging.Warn("close service", "error", err)
			}
		}()

		if err := svc.Start(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s contentstored %s serving (store=%s, cache=%s, archive=%s)\n",
			color.GreenString("✓"), Version,
			cfg.Store.Driver, cfg.Cache.Driver, cfg.Archive.Driver)

		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "Shutting down...")
		return svc.Stop()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
