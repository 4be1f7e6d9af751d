package main

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("contentstored %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the config file on top of the defaults, validate it and print the
effective settings. A missing file validates the defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s %s\n\n", color.GreenString("✓"), "configuration is valid")
		fmt.Printf("%s driver=%s\n", bold("store:    "), cfg.Store.Driver)
		fmt.Printf("%s driver=%s ttl=%s\n", bold("cache:    "), cfg.Cache.Driver, cfg.Cache.TTL)
		fmt.Printf("%s driver=%s format=%s\n", bold("archive:  "), cfg.Archive.Driver, cfg.Archive.Format)
		fmt.Printf("%s cold_days=%d batch_size=%d\n", bold("retention:"), cfg.Retention.ColdDays, cfg.Retention.BatchSize)
		fmt.Printf("%s threshold=%.3f lookback=%s\n", bold("cascade:  "), cfg.Cascade.SimilarityThreshold, cfg.Cascade.VectorLookback)
		fmt.Printf("%s window=[-%d, +%d] months\n", bold("partition:"), cfg.Partition.MonthsBack, cfg.Partition.MonthsAhead)
		fmt.Printf("%s partitions=%s archive=%s maintenance=%s\n", bold("schedule: "),
			cfg.Schedule.Partitions, cfg.Schedule.Archive, cfg.Schedule.Maintenance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}
