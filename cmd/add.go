package main

import (
	"fmt"
	"strings"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var flagName string

	cmd := &cobra.Command{
		Use:   "add <identifier>...",
		Short: "Queue device identifiers for the next update run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(flagName)
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			paths := datasetPaths()
			ds, err := bezelagent.LoadDataset(paths.Full)
			if err != nil {
				return err
			}
			for _, raw := range args {
				id := strings.TrimSpace(raw)
				if id == "" {
					continue
				}
				if ds.HasDevice(id) {
					log.Warn().Str("identifier", id).Msg("already measured, resolver will skip it")
				}
				ds.Pending[id] = bezelagent.PendingEntry{Name: name}
				log.Info().Str("identifier", id).Str("name", name).Msg("queued for measurement")
			}
			return bezelagent.WriteDataset(ds, paths)
		},
	}

	cmd.Flags().StringVar(&flagName, "name", "", "Device display name for the queued identifiers (required)")
	return cmd
}
