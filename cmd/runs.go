package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/gridrefine/internal/store"
	"github.com/spf13/cobra"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored runs",
	Long: `Manage the run records and traces written by "run --data-dir".
A stored run can seed a new run with its final ranges via --from-run.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all stored runs with run ID, timestamp, rounds, best value and size on disk.`,
	RunE:  runListRuns,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on retention policy.
You can keep only the N most recent runs or delete runs older than N days.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory for run storage")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	// Newest first
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tPARAMS\tROUNDS\tBEST VALUE\tSTATUS\tSIZE")
	fmt.Fprintln(w, "------\t---------\t------\t------\t----------\t------\t----")

	for _, info := range infos {
		runDir := filepath.Join(runsDataDir, "runs", info.RunID)
		size, err := getDirSize(runDir)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		status := "ok"
		if info.Failed {
			status = "failed"
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\t%s\t%s\n",
			shortID(info.RunID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Parameters,
			info.RoundsCompleted,
			info.BestValue,
			status,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%d rounds, %s)\n",
			shortID(info.RunID),
			info.RoundsCompleted,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := runStore.DeleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion applies the retention policy. A run matching both
// rules is returned once, oldest first.
func selectRunsForDeletion(infos []store.RunInfo, keepLast int, olderThanDays int, now time.Time) []store.RunInfo {
	sorted := make([]store.RunInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var cutoff time.Time
	if olderThanDays > 0 {
		cutoff = now.AddDate(0, 0, -olderThanDays)
	}
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []store.RunInfo
	for i, info := range sorted {
		tooOld := olderThanDays > 0 && info.Timestamp.Before(cutoff)
		if tooOld || i < excess {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
