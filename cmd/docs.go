package main

import (
	"os"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDocsCmd() *cobra.Command {
	var flagReadme string

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Regenerate the device table section of the README",
		Long: "Rewrites the markdown between the device table markers from the full " +
			"dataset; everything outside the markers is left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := bezelagent.LoadDataset(datasetPaths().Full)
			if err != nil {
				return err
			}
			doc, err := os.ReadFile(flagReadme)
			if err != nil {
				return errors.Wrapf(err, "read %s", flagReadme)
			}
			updated, err := bezelagent.UpdateMarkdownTable(doc, ds)
			if err != nil {
				return err
			}
			if err := os.WriteFile(flagReadme, updated, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", flagReadme)
			}
			log.Info().Str("path", flagReadme).Msg("device table regenerated")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagReadme, "readme", "README.md", "Markdown file containing the device table markers")
	return cmd
}
