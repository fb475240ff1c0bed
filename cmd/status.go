package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/bezelkit/BezelAgent/internal/storage"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		flagRuns  int
		flagRunID string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dataset coverage, queue contents and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := bezelagent.LoadDataset(datasetPaths().Full)
			if err != nil {
				return err
			}
			printDataset(ds)
			if flagRunID != "" {
				return printRunGroups(cmd, flagRunID)
			}
			if flagRuns > 0 {
				return printRecentRuns(cmd, flagRuns)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagRuns, "runs", 0, "List the N most recent runs from the local ledger")
	cmd.Flags().StringVar(&flagRunID, "run-id", "", "Show the group outcomes recorded for one run")
	return cmd
}

func printDataset(ds bezelagent.DeviceDataset) {
	categories := make([]string, 0, len(ds.Devices))
	for category := range ds.Devices {
		if len(ds.Devices[category]) == 0 {
			continue
		}
		categories = append(categories, category)
	}
	sort.Strings(categories)

	total := 0
	for _, category := range categories {
		total += len(ds.Devices[category])
	}
	fmt.Printf("devices: %d", total)
	for _, category := range categories {
		fmt.Printf("  %s: %d", category, len(ds.Devices[category]))
	}
	fmt.Println()
	printQueue("pending", ds.Pending)
	printQueue("problematic", ds.Problematic)
}

func printQueue(label string, entries map[string]bezelagent.PendingEntry) {
	fmt.Printf("%s: %d\n", label, len(entries))
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	bezelagent.SortIdentifiers(ids)
	for _, id := range ids {
		fmt.Printf("  %s  %s\n", id, entries[id].Name)
	}
}

func printRecentRuns(cmd *cobra.Command, limit int) error {
	ledger, err := storage.Open()
	if err != nil {
		return err
	}
	defer ledger.Close()
	runs, err := ledger.RecentRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  groups=%d failed=%d devices=%d  %s\n",
			run.RunID, run.Processed, run.Failed, run.Devices,
			run.StartedAt.Format(time.RFC3339))
		if run.Error != "" {
			fmt.Printf("  error: %s\n", run.Error)
		}
	}
	return nil
}

func printRunGroups(cmd *cobra.Command, runID string) error {
	ledger, err := storage.Open()
	if err != nil {
		return err
	}
	defer ledger.Close()
	groups, err := ledger.GroupsForRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Printf("no groups recorded for run %s\n", runID)
		return nil
	}
	for _, group := range groups {
		line := fmt.Sprintf("%-9s %s (%s)", group.Status, group.DisplayName, group.Identifiers)
		if group.Bezel.Valid {
			line += "  bezel=" + strconv.FormatFloat(group.Bezel.Float64, 'f', -1, 64)
		}
		if group.Reason != "" {
			line += "  reason=" + group.Reason
		}
		fmt.Println(line)
		if group.Detail != "" {
			fmt.Printf("  %s\n", group.Detail)
		}
	}
	return nil
}
