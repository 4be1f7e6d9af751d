package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/maintenance"
	"github.com/xtxerr/contentstore/internal/partition"
	"github.com/xtxerr/contentstore/internal/retention"
	"github.com/xtxerr/contentstore/internal/store"
)

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Create the monthly segments of the current window",
	Long: `Create the storage segments from partition.months_back months before the
current month through partition.months_ahead months after it. Existing
segments are left alone, so the command is safe to run repeatedly.

Examples:
  contentstored segments          # Ensure the window
  contentstored segments --list   # Only list existing segments`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		ctx, cancel := jobContext()
		defer cancel()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if !list {
			res, err := svc.EnsurePartitions(ctx)
			if err != nil {
				return err
			}
			printSegments(res)
		}

		segs, err := svc.Segments(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d segment(s):\n", len(segs))
		for _, seg := range segs {
			fmt.Printf("  %s  %s\n", seg.String(), color.New(color.Faint).Sprint(seg.Name()))
		}
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move content past the retention window to the cold tier",
	Long: `Run one archival sweep: snapshot up to retention.batch_size records
older than retention.cold_days, write them to the object store, then remove
them from the hot store. A backlog larger than one batch drains over
several runs.

Examples:
  contentstored archive            # Archive one batch
  contentstored archive --dry-run  # Show what would be archived`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := jobContext()
		defer cancel()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if dryRun {
			plan, err := svc.DryRunArchival(ctx)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		}

		res, err := svc.RunArchival(ctx)
		if err != nil {
			return err
		}
		printArchival(res)
		return nil
	},
}

var archiveStatsCmd = &cobra.Command{
	Use:   "stats ADVISOR_ID",
	Short: "Summarize the cold tier of one advisor",
	Long: `Query the archived snapshots of one advisor with DuckDB. Requires the
filesystem archive driver with the parquet format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Archive.Driver != "filesystem" || cfg.Archive.Format != "parquet" {
			return fmt.Errorf("archive stats needs archive.driver=filesystem and archive.format=parquet")
		}

		ctx, cancel := jobContext()
		defer cancel()

		q, err := archive.NewQuery(cfg.Archive.Dir)
		if err != nil {
			return err
		}
		defer q.Close()

		sum, err := q.AdvisorSummary(ctx, args[0])
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s %s\n", bold("Advisor:"), sum.AdvisorID)
		fmt.Printf("  Records:   %d\n", sum.Records)
		fmt.Printf("  Oldest:    %s\n", sum.OldestCreated.Format(time.DateOnly))
		fmt.Printf("  Newest:    %s\n", sum.NewestCreated.Format(time.DateOnly))
		fmt.Printf("  Sent:      %d\n", sum.Sent)
		fmt.Printf("  Delivered: %d\n", sum.Delivered)
		fmt.Printf("  Engaged:   %d\n", sum.Engaged)
		return nil
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Refresh statistics, archive and sweep the cache",
	Long: `Run one maintenance pass. The steps run in order and a failing step
does not stop the others:
  1. refresh storage statistics of the hot tables
  2. one archival sweep
  3. cache garbage collection`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := jobContext()
		defer cancel()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		rep := svc.PerformMaintenance(ctx)
		printReport(rep)
		if !rep.OK() {
			return fmt.Errorf("maintenance finished with %d error(s)", len(rep.Errors))
		}
		return nil
	},
}

func init() {
	segmentsCmd.Flags().Bool("list", false, "List existing segments without creating any")
	archiveCmd.Flags().Bool("dry-run", false, "Preview without writing or deleting")

	archiveCmd.AddCommand(archiveStatsCmd)
	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(maintainCmd)
}

// jobContext bounds one command by schedule.job_timeout.
func jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.Schedule.JobTimeout)
}

// =============================================================================
// Output
// =============================================================================

var (
	okMark   = color.GreenString("✓")
	failMark = color.RedString("✗")
)

func printSegments(res *partition.Result) {
	for _, seg := range res.Created {
		fmt.Printf("%s created %s\n", okMark, seg.String())
	}
	fmt.Printf("%d created, %d already present\n", len(res.Created), len(res.Existing))
}

func printPlan(plan *retention.Plan) {
	fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - Nothing will be archived"))
	fmt.Printf("Cutoff:   %s\n", plan.Cutoff.Format(time.RFC3339))
	fmt.Printf("Eligible: %d record(s)\n", plan.Eligible)
	if len(plan.Keys) > 0 {
		fmt.Printf("Next batch (%d):\n", len(plan.Keys))
		for _, k := range plan.Keys {
			fmt.Printf("  %s\n", k)
		}
	}
}

func printArchival(res *retention.Result) {
	fmt.Printf("Cutoff:   %s\n", res.Cutoff.Format(time.RFC3339))
	fmt.Printf("%s Archived %d of %d selected record(s)\n", okMark, res.Archived, res.Selected)
	if n := res.WriteFailures + res.DeleteFailures; n > 0 {
		fmt.Printf("%s %d failure(s) (write %d, delete %d), retried next run\n",
			failMark, n, res.WriteFailures, res.DeleteFailures)
		for _, err := range res.Errors {
			fmt.Printf("  %v\n", err)
		}
	}
}

func printReport(rep *maintenance.Report) {
	fmt.Printf("Statistics refreshed: %d/%d table(s)\n", len(rep.StatsRefreshed), len(store.HotTables))
	fmt.Printf("Archived:             %d\n", rep.Archived)
	fmt.Printf("Cache entries swept:  %d\n", rep.CacheCleaned)
	fmt.Printf("Duration:             %s\n", rep.Duration.Round(time.Millisecond))
	if rep.OK() {
		fmt.Printf("%s maintenance complete\n", okMark)
		return
	}
	for _, err := range rep.Errors {
		fmt.Printf("%s %v\n", failMark, err)
	}
}
