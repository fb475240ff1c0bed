package main

import (
	"os"

	"github.com/bezelkit/BezelAgent/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bezelagent",
	Short: "Maintains the BezelKit device bezel dataset",
	Long: `bezelagent resolves queued device identifiers, drives each virtual device
through the measurement probe, and reconciles captured bezel radii into the
versioned dataset files.`,
}

var (
	rootFile    string
	rootMinFile string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootFile, "file", "", "Dataset file overriding $BEZEL_DATASET_FILE")
	rootCmd.PersistentFlags().StringVar(&rootMinFile, "min-file", "", "Minified dataset file overriding $BEZEL_MIN_FILE")
	rootCmd.AddCommand(
		newUpdateCmd(),
		newAddCmd(),
		newStatusCmd(),
		newDocsCmd(),
		newFormatCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("bezelagent command failed")
	}
}
