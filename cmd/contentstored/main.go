// contentstored runs the content uniqueness and history store: the
// background jobs under "serve", or one job at a time for external cron.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xtxerr/contentstore/internal/config"
	"github.com/xtxerr/contentstore/internal/history"
	"github.com/xtxerr/contentstore/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	cfgPath string
	logJSON bool
	logLvl  string

	// cfg is loaded by the root command before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "contentstored",
	Short: "Content uniqueness and tiered history store",
	Long: `contentstored keeps the sent-content history of every advisor in a
partitioned hot store, archives content older than the retention window to
an object store and keeps the cache in front of the store tidy.

Run "contentstored serve" for the built-in scheduler, or call the job
subcommands (segments, archive, maintain) from an external cron.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = loadConfig(cfgPath)
		if err != nil {
			return err
		}
		return initLogging(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLvl, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults when the file does not
// exist.
func loadConfig(path string) (*config.Config, error) {
	c, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func initLogging(cmd *cobra.Command) error {
	level := cfg.Logging.Level
	if logLvl != "" {
		level = logLvl
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	asJSON := cfg.Logging.JSON
	if cmd.Flags().Changed("log-json") {
		asJSON = logJSON
	}
	logging.Init(lvl, asJSON)
	return nil
}

// openService connects every client of the loaded config. Job commands
// run without a fingerprinter: they never touch the request path.
func openService(ctx context.Context) (*history.Service, error) {
	svc, err := history.Open(ctx, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open service: %w", err)
	}
	return svc, nil
}
