package main

import (
	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Rewrite both dataset files in canonical form",
		Long: "Reloads the full dataset and writes both output files with canonical " +
			"key order and number formatting. Use after editing the dataset by hand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := datasetPaths()
			ds, err := bezelagent.LoadDataset(paths.Full)
			if err != nil {
				return err
			}
			if err := bezelagent.WriteDataset(ds, paths); err != nil {
				return err
			}
			log.Info().Str("file", paths.Full).Str("min_file", paths.Minified).Msg("dataset files rewritten")
			return nil
		},
	}
	return cmd
}
