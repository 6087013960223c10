// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
)

// withEngine wraps a command body that needs the assembled sync stack.
func withEngine(opts *RootOptions, run func(cmd *cobra.Command, e *engine, p *printer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine(opts)
		if err != nil {
			return err
		}
		defer e.Close()
		return run(cmd, e, &printer{format: opts.Format, w: cmd.OutOrStdout()})
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one push and pull cycle",
		Long: `Push every pending local change in dependency order, then pull remote
changes newer than the local high-water mark. --force pulls every row.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		report, err := e.orch.SyncNow(cmd.Context(), force)
		if err != nil {
			return err
		}
		return p.result(report, func(w io.Writer) { writeReport(w, report) })
	})
	cmd.Flags().BoolVar(&force, "force", false, "ignore the high-water mark and pull everything")
	return cmd
}

func writeReport(w io.Writer, r *possync.CycleReport) {
	switch {
	case r.Skipped:
		fmt.Fprintln(w, "Sync already in progress")
		return
	case r.Offline:
		fmt.Fprintln(w, "Offline: no signed-in user, nothing synced")
		return
	}
	fmt.Fprintf(w, "Pushed %d, failed %d, repaired %d in %s\n", r.Pushed, r.Failed, r.Repaired, r.Duration.Round(time.Millisecond))
	writeCounts(w, "Pulled", r.Pulled)
	if len(r.PullErrors) > 0 {
		kinds := make([]string, 0, len(r.PullErrors))
		for k := range r.PullErrors {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		fmt.Fprintln(w, "Pull errors:")
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %s\n", k, r.PullErrors[posdata.Kind(k)])
		}
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show queue counts by status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		st, err := e.orch.Status(cmd.Context())
		if err != nil {
			return err
		}
		return p.result(st, func(w io.Writer) {
			total := 0
			for _, n := range st.Queue {
				total += n
			}
			fmt.Fprintf(w, "Queued entries: %d\n", total)
			writeCounts(w, "By status", st.Queue)
		})
	})
	return cmd
}

// NewRetryFailedCommand creates the retry-failed command.
func NewRetryFailedCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "retry-failed",
		Short:        "Re-arm failed queue entries for the next sync",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		n, err := e.orch.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		return p.result(map[string]int64{"rearmed": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Re-armed %d failed entries\n", n)
		})
	})
	return cmd
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Fix queued sale items that reference a variant as product",
		Long: `Rewrite pending and failed sale item entries whose product_id names a
variant so that they reference the parent product, and re-arm them.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		n, err := e.orch.RepairHistoricalEntries(cmd.Context())
		if err != nil {
			return err
		}
		return p.result(map[string]int{"repaired": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Repaired %d queued sale items\n", n)
		})
	})
	return cmd
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:          "reset",
		Short:        "Delete all local data including unsynced changes",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		if !yes {
			return fmt.Errorf("reset discards unsynced changes; pass --yes to confirm")
		}
		if err := e.orch.ClearAllLocalData(cmd.Context()); err != nil {
			return err
		}
		return p.result(map[string]bool{"cleared": true}, func(w io.Writer) {
			fmt.Fprintln(w, "Local data cleared")
		})
	})
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stats",
		Short:        "Show local row counts and storage estimate",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		st, err := e.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return p.result(st, func(w io.Writer) {
			writeCounts(w, "Rows", st.Rows)
			writeCounts(w, "Unsynced", st.Unsynced)
			writeCounts(w, "Queue", st.Queue)
			fmt.Fprintf(w, "Estimated size: %d KiB\n", st.EstimatedKiB)
		})
	})
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sweep",
		Short:        "Purge old synced sales from the local database",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		n, err := e.orch.SweepRetention(cmd.Context())
		if err != nil {
			return err
		}
		return p.result(map[string]int{"purged": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Purged %d sales\n", n)
		})
	})
	return cmd
}
