package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/cli"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/storage"
)

var snapshotsFlags struct {
	limit  int
	output string
	before string
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect stored configuration snapshots",
	Long: `Inspect the configuration and health snapshots written by a running
gateway (storage.enabled). The database path comes from the configuration
file.`,
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE:  listSnapshots,
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <id|latest>",
	Short: "Print one snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  showSnapshot,
}

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the retention window",
	Long: `Delete snapshots older than storage.retention_days, or older than
--before (RFC3339) when given.`,
	RunE: pruneSnapshots,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsPruneCmd)

	snapshotsListCmd.Flags().IntVarP(&snapshotsFlags.limit, "limit", "n", 20, "maximum snapshots to list (0 for all)")
	snapshotsListCmd.Flags().StringVarP(&snapshotsFlags.output, "output", "o", "table", "output format: table, json, csv")
	snapshotsPruneCmd.Flags().StringVar(&snapshotsFlags.before, "before", "", "delete snapshots taken before this RFC3339 time")
}

type snapshotTable []storage.Summary

func (t snapshotTable) Headers() []string {
	return []string{"ID", "TAKEN_AT", "REASON", "PROVIDERS", "HEALTHY"}
}

func (t snapshotTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, s := range t {
		rows[i] = []string{
			s.ID,
			s.TakenAt.UTC().Format(time.RFC3339),
			s.Reason,
			strconv.Itoa(s.TotalProviders),
			strconv.Itoa(s.HealthyProviders),
		}
	}
	return rows
}

// openSnapshotStore opens the snapshot database named by the configuration.
func openSnapshotStore() (*storage.SQLiteStore, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, 0, cli.NewCommandError("snapshots", err)
	}
	return store, cfg.Storage.RetentionDays, nil
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(snapshotsFlags.output)
	if err != nil {
		return err
	}

	store, _, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), snapshotsFlags.limit)
	if err != nil {
		return cli.NewCommandError("snapshots list", err)
	}
	if len(list) == 0 && format == cli.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found.")
		return nil
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), snapshotTable(list))
}

func showSnapshot(cmd *cobra.Command, args []string) error {
	store, _, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var snap *storage.Snapshot
	if args[0] == "latest" {
		snap, err = store.Latest(cmd.Context())
	} else {
		snap, err = store.Get(cmd.Context(), args[0])
	}
	if errors.Is(err, storage.ErrNotFound) {
		return cli.NewCommandError("snapshots show", fmt.Errorf("snapshot %q not found", args[0]))
	}
	if err != nil {
		return cli.NewCommandError("snapshots show", err)
	}
	return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), snap)
}

func pruneSnapshots(cmd *cobra.Command, args []string) error {
	store, retentionDays, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if snapshotsFlags.before != "" {
		cutoff, err = time.Parse(time.RFC3339, snapshotsFlags.before)
		if err != nil {
			return fmt.Errorf("invalid --before time: %w", err)
		}
	}

	deleted, err := store.Prune(cmd.Context(), cutoff)
	if err != nil {
		return cli.NewCommandError("snapshots prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d snapshot(s) taken before %s\n", deleted, cutoff.UTC().Format(time.RFC3339))
	return nil
}
